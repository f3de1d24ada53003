package risk

import (
	"fmt"
	"sync"

	"grid-trader-go/internal/logger"
)

// KillSwitch 是组合级的单向熔断开关。
// 总价值相对初始资金的亏损超过阈值后永久停止所有交易, 只能人工重启。
type KillSwitch struct {
	mu sync.Mutex

	initialBalance float64
	maxLossPct     float64
	tripped        bool
	reason         string
}

// NewKillSwitch 创建熔断开关。阈值或初始资金非正时开关被禁用。
func NewKillSwitch(initialBalance, maxLossPct float64) *KillSwitch {
	return &KillSwitch{
		initialBalance: initialBalance,
		maxLossPct:     maxLossPct,
	}
}

// Check 评估当前总价值, 越过亏损阈值时触发熔断并返回true。
// 已触发的开关永远返回true, 不会因价值回升而复位。
func (k *KillSwitch) Check(totalValue float64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.tripped {
		return true
	}
	if k.initialBalance <= 0 || k.maxLossPct <= 0 {
		return false
	}

	loss := (k.initialBalance - totalValue) / k.initialBalance
	if loss >= k.maxLossPct {
		k.tripped = true
		k.reason = fmt.Sprintf("总价值 %.8f 较初始资金 %.8f 亏损 %.2f%%, 超过熔断阈值 %.2f%%",
			totalValue, k.initialBalance, loss*100, k.maxLossPct*100)
		logger.S().Errorf("全局熔断触发: %s", k.reason)
		return true
	}
	return false
}

// Tripped 返回熔断状态和触发原因。
func (k *KillSwitch) Tripped() (bool, string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tripped, k.reason
}
