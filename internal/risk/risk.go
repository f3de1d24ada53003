package risk

import (
	"fmt"
	"sort"
	"time"

	"grid-trader-go/internal/models"
)

// Action 是风控评估给出的处置动作。
type Action int

const (
	ActionNone Action = iota
	// ActionTrailingStop 撤销全部挂单, 市价清仓, 按新价格重建网格
	ActionTrailingStop
	// ActionRebalance 撤销全部挂单, 按新价格重建网格
	ActionRebalance
	// ActionShed 挂一笔聚合限价卖单减掉最差的批次, 不重建网格
	ActionShed
)

// Decision 是一次风控评估的结果。
type Decision struct {
	Action Action
	Reason string

	// 减仓动作的参数
	ShedAmount float64
	ShedPrice  float64
}

// Inputs 是每个循环周期喂给风控的市场与持仓状态。
type Inputs struct {
	GridLower      float64
	GridUpper      float64
	Gap            float64 // 最近买档与卖档之间的价差
	PriceInsideGap bool
	Lots           []models.InventoryLot
}

// Controller 维护单个交易对的风控计时器并按优先级评估风控规则。
// 只被所属交易对的循环访问, 不需要加锁。
type Controller struct {
	cfg    models.RiskConfig
	symbol string

	reference     float64 // 追踪止损参考价, 只随价格上移
	lastRebalance time.Time
	lastShed      time.Time
	gapSince      time.Time // 间隙条件首次出现的时间
}

// NewController 创建风控控制器, 参考价从初始价格开始。
func NewController(symbol string, cfg models.RiskConfig, initialPrice float64, now time.Time) *Controller {
	return &Controller{
		cfg:           cfg,
		symbol:        symbol,
		reference:     initialPrice,
		lastRebalance: now,
	}
}

// Reference 返回当前追踪止损参考价。
func (c *Controller) Reference() float64 {
	return c.reference
}

// NoteRebalance 在网格重建完成后重置所有计时器和参考价。
func (c *Controller) NoteRebalance(price float64, now time.Time) {
	c.reference = price
	c.lastRebalance = now
	c.gapSince = time.Time{}
}

// NoteShed 记录一次减仓, 启动减仓冷却。
func (c *Controller) NoteShed(now time.Time) {
	c.lastShed = now
}

// Evaluate 按固定优先级评估风控规则, 返回第一个命中的动作:
// 追踪止损 > 价格出界再平衡 > 间隙再平衡 > 批次数量减仓。
// 组合级熔断由 KillSwitch 在聚合任务里单独评估。
func (c *Controller) Evaluate(price float64, in Inputs, now time.Time) Decision {
	// 1. 追踪止损: 参考价随价格上移, 回撤超过阈值即触发, 无视冷却
	if price > c.reference {
		c.reference = price
	}
	if c.cfg.TrailingStopPct > 0 && c.reference > 0 {
		drawdown := (c.reference - price) / c.reference
		if drawdown >= c.cfg.TrailingStopPct {
			return Decision{
				Action: ActionTrailingStop,
				Reason: fmt.Sprintf("价格 %.8f 较参考价 %.8f 回撤 %.2f%%, 触发追踪止损",
					price, c.reference, drawdown*100),
			}
		}
	}

	// 2. 价格出界: 冷却结束后再平衡; 距上次再平衡过久则无视冷却
	buffer := c.cfg.OutOfRangeBufferPct
	if price < in.GridLower*(1-buffer) || price > in.GridUpper*(1+buffer) {
		sinceRebalance := now.Sub(c.lastRebalance)
		forced := c.cfg.MaxRebalanceGapSec > 0 &&
			sinceRebalance >= time.Duration(c.cfg.MaxRebalanceGapSec)*time.Second
		cooled := sinceRebalance >= time.Duration(c.cfg.RebalanceCooldownSec)*time.Second
		if forced || cooled {
			return Decision{
				Action: ActionRebalance,
				Reason: fmt.Sprintf("价格 %.8f 超出网格区间 [%.8f, %.8f], 触发再平衡",
					price, in.GridLower, in.GridUpper),
			}
		}
		return Decision{Action: ActionNone}
	}

	// 3. 间隙再平衡: 买卖档之间的空洞过大且现价在其中, 宽限期后重建;
	// 间隙特别宽时跳过宽限期
	if c.cfg.GapFractionPct > 0 && in.PriceInsideGap && in.Gap > c.cfg.GapFractionPct*price {
		if c.gapSince.IsZero() {
			c.gapSince = now
		}
		veryWide := in.Gap >= c.cfg.WideGapFactor*c.cfg.GapFractionPct*price
		graceOver := now.Sub(c.gapSince) >= time.Duration(c.cfg.GapGraceSec)*time.Second
		if veryWide || graceOver {
			return Decision{
				Action: ActionRebalance,
				Reason: fmt.Sprintf("买卖档间隙 %.8f 超过现价的 %.2f%%, 触发再平衡",
					in.Gap, c.cfg.GapFractionPct*100),
			}
		}
	} else {
		c.gapSince = time.Time{}
	}

	// 4. 批次数量减仓: 挂一笔聚合卖单减掉入场价最高的批次
	if c.cfg.MaxOpenLots > 0 && len(in.Lots) > c.cfg.MaxOpenLots {
		if now.Sub(c.lastShed) >= time.Duration(c.cfg.ShedCooldownSec)*time.Second {
			amount, breakeven := worstLots(in.Lots, len(in.Lots)-c.cfg.MaxOpenLots)
			shedPrice := breakeven
			if price > shedPrice {
				shedPrice = price
			}
			return Decision{
				Action: ActionShed,
				Reason: fmt.Sprintf("未平仓批次 %d 个超过上限 %d, 减仓 %.8f @ %.8f",
					len(in.Lots), c.cfg.MaxOpenLots, amount, shedPrice),
				ShedAmount: amount,
				ShedPrice:  shedPrice,
			}
		}
	}

	return Decision{Action: ActionNone}
}

// worstLots 选出入场价最高的count个批次, 返回总数量和保本价 (加权平均入场价)。
func worstLots(lots []models.InventoryLot, count int) (amount, breakeven float64) {
	sorted := make([]models.InventoryLot, len(lots))
	copy(sorted, lots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntryPrice > sorted[j].EntryPrice })

	if count > len(sorted) {
		count = len(sorted)
	}
	var cost float64
	for _, lot := range sorted[:count] {
		amount += lot.Amount
		cost += lot.EntryPrice * lot.Amount
	}
	if amount > 0 {
		breakeven = cost / amount
	}
	return amount, breakeven
}
