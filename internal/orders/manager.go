package orders

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"grid-trader-go/internal/exchange"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
)

// Manager 负责单个交易对的订单生命周期:
// 按交易所精度取整, 补足最小下单金额, 下单/撤单, 以及与交易所挂单列表对账。
type Manager struct {
	symbol     string
	ex         exchange.Exchange
	attempts   int
	retryDelay time.Duration
}

// NewManager 创建一个订单管理器。
func NewManager(symbol string, ex exchange.Exchange, retryAttempts int, retryDelay time.Duration) *Manager {
	if retryAttempts <= 0 {
		retryAttempts = 1
	}
	return &Manager{
		symbol:     symbol,
		ex:         ex,
		attempts:   retryAttempts,
		retryDelay: retryDelay,
	}
}

// EnsureOrders 为每个没有在途订单的未成交档位下限价单。
// 价格和数量先按交易所步长取整; 金额不足最小下单额时向上补足数量;
// 可用库存不足的卖单跳过, 成功提交的卖单立即扣减本地库存估计,
// 避免同一轮内超卖。成交提交后档位数量更新为实际提交的数量。
// 返回本轮新下单数量。
func (m *Manager) EnsureOrders(ctx context.Context, levels []*models.GridLevel, info *models.MarketInfo, availableInventory float64) (int, error) {
	placed := 0
	for _, level := range levels {
		if level.Filled || level.OrderRef != "" {
			continue
		}

		price := adjustValueToStep(level.Price, info.PriceTick)
		amount := adjustValueToStep(level.Amount, info.AmountStep)
		if price <= 0 || amount <= 0 {
			logger.S().Warnf("%s 档位 %.8f 取整后无效 (price=%.8f amount=%.8f), 跳过",
				m.symbol, level.Price, price, amount)
			continue
		}

		// 金额低于交易所最小下单额时向上补足数量
		if info.MinNotional > 0 && amount*price < info.MinNotional {
			bumped := ceilToStep(info.MinNotional/price, info.AmountStep)
			logger.S().Debugf("%s 档位 %.8f 金额不足最小下单额, 数量 %.8f -> %.8f",
				m.symbol, price, amount, bumped)
			amount = bumped
		}

		if level.Side == models.Sell && availableInventory < amount {
			logger.S().Warnf("%s 可用库存 %.8f 不足以挂 %.8f 的卖单 (档位 %.8f), 跳过",
				m.symbol, availableInventory, amount, price)
			continue
		}

		ref, err := m.submitWithRetry(ctx, level.Side, amount, price)
		if err != nil {
			return placed, fmt.Errorf("%s 档位 %.8f 下单失败: %w", m.symbol, price, err)
		}

		level.OrderRef = ref
		// 档位记录实际提交的数量, 后续的库存估计才能覆盖被补足的部分
		level.Amount = amount
		if level.Side == models.Sell {
			availableInventory -= amount
		}
		placed++
		logger.S().Infof("%s 已挂 %s 单: %.8f @ %.8f (订单 %s)", m.symbol, level.Side, amount, price, ref)
	}
	return placed, nil
}

// ReconcileOrders 把档位持有的订单引用与交易所在途订单列表对比。
// 引用已不在交易所的档位被视为疑似成交: 清除引用并返回给调用方,
// 权威的成交确认仍然来自成交记录同步。
func (m *Manager) ReconcileOrders(openRefs []string, levels []*models.GridLevel) []*models.GridLevel {
	open := make(map[string]bool, len(openRefs))
	for _, ref := range openRefs {
		open[ref] = true
	}

	var vanished []*models.GridLevel
	for _, level := range levels {
		if level.Filled || level.OrderRef == "" {
			continue
		}
		if !open[level.OrderRef] {
			logger.S().Infof("%s 订单 %s (档位 %s@%.8f) 已不在交易所挂单列表, 视为已成交",
				m.symbol, level.OrderRef, level.Side, level.Price)
			level.OrderRef = ""
			vanished = append(vanished, level)
		}
	}
	return vanished
}

// CancelAll 尽力取消所有档位持有的在途订单, 返回成功取消的数量。
func (m *Manager) CancelAll(ctx context.Context, levels []*models.GridLevel) int {
	cancelled := 0
	for _, level := range levels {
		if level.OrderRef == "" {
			continue
		}
		if err := m.ex.CancelOrder(ctx, level.OrderRef, m.symbol); err != nil {
			logger.S().Warnf("%s 取消订单 %s 失败: %v", m.symbol, level.OrderRef, err)
		} else {
			cancelled++
		}
		level.OrderRef = ""
	}
	return cancelled
}

// PlaceLimitSell 按交易所精度下一笔限价卖单, 用于减仓。
func (m *Manager) PlaceLimitSell(ctx context.Context, amount, price float64, info *models.MarketInfo) (string, error) {
	price = adjustValueToStep(price, info.PriceTick)
	amount = adjustValueToStep(amount, info.AmountStep)
	if price <= 0 || amount <= 0 {
		return "", fmt.Errorf("%s 减仓卖单参数无效: amount=%.8f price=%.8f", m.symbol, amount, price)
	}
	if info.MinNotional > 0 && amount*price < info.MinNotional {
		return "", fmt.Errorf("%s 减仓卖单金额 %.8f 低于最小下单额 %.8f", m.symbol, amount*price, info.MinNotional)
	}
	return m.submitWithRetry(ctx, models.Sell, amount, price)
}

// MarketSell 按交易所精度市价卖出, 用于止损清仓。
func (m *Manager) MarketSell(ctx context.Context, amount float64, info *models.MarketInfo) (string, error) {
	amount = adjustValueToStep(amount, info.AmountStep)
	if amount <= 0 {
		return "", fmt.Errorf("%s 市价卖出数量无效: %.8f", m.symbol, amount)
	}

	var lastErr error
	for i := 0; i < m.attempts; i++ {
		if i > 0 {
			if !m.wait(ctx) {
				return "", ctx.Err()
			}
		}
		ref, err := m.ex.CreateOrder(ctx, m.symbol, exchange.OrderTypeMarket, models.Sell, amount, 0)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		logger.S().Warnf("%s 市价卖出失败 (第%d次): %v", m.symbol, i+1, err)
	}
	return "", lastErr
}

// submitWithRetry 提交限价单, 失败时按固定延迟重试有限次。
func (m *Manager) submitWithRetry(ctx context.Context, side models.Side, amount, price float64) (string, error) {
	var lastErr error
	for i := 0; i < m.attempts; i++ {
		if i > 0 {
			if !m.wait(ctx) {
				return "", ctx.Err()
			}
		}
		ref, err := m.ex.CreateOrder(ctx, m.symbol, exchange.OrderTypeLimit, side, amount, price)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		logger.S().Warnf("%s 下 %s 单失败 (第%d次): %v", m.symbol, side, i+1, err)
	}
	return "", lastErr
}

func (m *Manager) wait(ctx context.Context) bool {
	select {
	case <-time.After(m.retryDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

// adjustValueToStep 把数值向下取整到步长的小数位数。
// 步长以字符串表达 (如 "0.001"), 与币安过滤器格式一致。
func adjustValueToStep(value float64, step string) float64 {
	if !strings.Contains(step, ".") {
		// 步长是 "1", "10" 等整数时直接取整
		return math.Floor(value)
	}
	decimalPlaces := len(step) - strings.Index(step, ".") - 1

	// 乘以因子取整再除回去, 处理浮点精度的常用方法
	factor := math.Pow(10, float64(decimalPlaces))
	adjustedValue := math.Floor(value*factor) / factor

	finalValue, _ := strconv.ParseFloat(fmt.Sprintf("%.*f", decimalPlaces, adjustedValue), 64)
	return finalValue
}

// ceilToStep 把数值向上取整到步长的小数位数, 用于补足最小下单金额。
func ceilToStep(value float64, step string) float64 {
	if !strings.Contains(step, ".") {
		return math.Ceil(value)
	}
	decimalPlaces := len(step) - strings.Index(step, ".") - 1

	factor := math.Pow(10, float64(decimalPlaces))
	adjustedValue := math.Ceil(value*factor) / factor

	finalValue, _ := strconv.ParseFloat(fmt.Sprintf("%.*f", decimalPlaces, adjustedValue), 64)
	return finalValue
}
