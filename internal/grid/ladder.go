package grid

import (
	"math"
	"sort"
	"time"

	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
)

// Ladder 维护一个交易对的网格档位。
// 每次(重)初始化整体重建; 档位一旦成交不再复用。
// Ladder 只被所属交易对的循环访问, 不需要内部加锁。
type Ladder struct {
	cfg       models.GridConfig
	levels    []*models.GridLevel
	tolerance float64 // 档位去重容差 (相对间距的比例)
	prevPrice float64 // 模拟成交检测用的上一次价格
}

// New 根据配置和当前价格生成网格。
// 档位数量只会向下调整: 单档预算低于最小下单金额时减少档位, 直到满足为止。
func New(cfg models.GridConfig, currentPrice, minNotional, tolerance float64) *Ladder {
	for cfg.NumLevels > 1 && cfg.TotalBudget/float64(cfg.NumLevels) < minNotional {
		cfg.NumLevels--
	}
	if tolerance <= 0 {
		tolerance = 0.01
	}

	l := &Ladder{cfg: cfg, tolerance: tolerance, prevPrice: currentPrice}

	spacing := cfg.Spacing()
	perLevel := cfg.AmountPerLevel()
	for i := 0; i <= cfg.NumLevels; i++ {
		price := cfg.LowerPrice + float64(i)*spacing
		if price == currentPrice {
			// 正好落在现价上的档位丢弃, 方向无法判定
			continue
		}
		side := models.Buy
		if price > currentPrice {
			side = models.Sell
		}
		l.levels = append(l.levels, &models.GridLevel{
			Price:  price,
			Side:   side,
			Amount: perLevel / price,
		})
	}

	logger.S().Infof("%s 网格已生成: 区间 [%.8f, %.8f], %d 档, 间距 %.8f",
		cfg.Symbol, cfg.LowerPrice, cfg.UpperPrice, cfg.NumLevels, spacing)
	return l
}

// Config 返回本次网格的静态参数。
func (l *Ladder) Config() models.GridConfig {
	return l.cfg
}

// ActiveLevels 返回所有未成交的档位。
func (l *Ladder) ActiveLevels() []*models.GridLevel {
	active := make([]*models.GridLevel, 0, len(l.levels))
	for _, lv := range l.levels {
		if !lv.Filled {
			active = append(active, lv)
		}
	}
	return active
}

// FindByOrderRef 返回持有指定订单引用的未成交档位。
func (l *Ladder) FindByOrderRef(orderRef string) *models.GridLevel {
	if orderRef == "" {
		return nil
	}
	for _, lv := range l.levels {
		if !lv.Filled && lv.OrderRef == orderRef {
			return lv
		}
	}
	return nil
}

// MarkFilled 把档位标记为已成交, 并在一个间距之外合成反向档位,
// 使网格随价格震荡自我更新。越界或与现有未成交档位重合时不合成。
func (l *Ladder) MarkFilled(level *models.GridLevel, at time.Time) {
	if level.Filled {
		return
	}
	level.Filled = true
	level.FilledAt = at

	spacing := l.cfg.Spacing()
	opposite := &models.GridLevel{Side: level.Side.Opposite()}
	if level.Side == models.Buy {
		opposite.Price = level.Price + spacing
		// 卖出买入时获得的数量
		opposite.Amount = level.Amount
	} else {
		opposite.Price = level.Price - spacing
		opposite.Amount = l.cfg.AmountPerLevel() / opposite.Price
	}

	if opposite.Price < l.cfg.LowerPrice || opposite.Price > l.cfg.UpperPrice {
		logger.S().Debugf("%s 反向档位 %.8f 超出网格区间, 跳过合成", l.cfg.Symbol, opposite.Price)
		return
	}
	for _, lv := range l.levels {
		if !lv.Filled && math.Abs(lv.Price-opposite.Price) <= spacing*l.tolerance {
			logger.S().Debugf("%s 反向档位 %.8f 与现有档位重合, 跳过合成", l.cfg.Symbol, opposite.Price)
			return
		}
	}

	l.levels = append(l.levels, opposite)
	logger.S().Infof("%s 档位 %s@%.8f 已成交, 合成反向档位 %s@%.8f",
		l.cfg.Symbol, level.Side, level.Price, opposite.Side, opposite.Price)
}

// CheckSimulatedFills 用前后两次价格判定哪些未成交档位被穿越。
// 只允许在纸面交易模式下使用; 实盘成交一律以交易所成交记录为准。
func (l *Ladder) CheckSimulatedFills(currentPrice float64) []*models.GridLevel {
	prev := l.prevPrice
	l.prevPrice = currentPrice
	if prev == 0 || prev == currentPrice {
		return nil
	}

	var crossed []*models.GridLevel
	for _, lv := range l.levels {
		if lv.Filled {
			continue
		}
		switch lv.Side {
		case models.Buy:
			// 价格向下穿过买入档位
			if prev > lv.Price && lv.Price >= currentPrice {
				crossed = append(crossed, lv)
			}
		case models.Sell:
			// 价格向上穿过卖出档位
			if prev < lv.Price && lv.Price <= currentPrice {
				crossed = append(crossed, lv)
			}
		}
	}
	return crossed
}

// NearestGap 返回最近的活跃买档与卖档之间的价差, 以及现价是否落在这个间隙内。
// 任意一侧没有活跃档位时返回 inside=false。
func (l *Ladder) NearestGap(currentPrice float64) (gap float64, inside bool) {
	highestBuy := math.Inf(-1)
	lowestSell := math.Inf(1)
	for _, lv := range l.levels {
		if lv.Filled {
			continue
		}
		if lv.Side == models.Buy && lv.Price > highestBuy {
			highestBuy = lv.Price
		}
		if lv.Side == models.Sell && lv.Price < lowestSell {
			lowestSell = lv.Price
		}
	}
	if math.IsInf(highestBuy, -1) || math.IsInf(lowestSell, 1) {
		return 0, false
	}
	gap = lowestSell - highestBuy
	inside = currentPrice > highestBuy && currentPrice < lowestSell
	return gap, inside
}

// SortedActivePrices 返回未成交档位价格的升序列表, 便于巡检和测试。
func (l *Ladder) SortedActivePrices() []float64 {
	prices := make([]float64, 0, len(l.levels))
	for _, lv := range l.levels {
		if !lv.Filled {
			prices = append(prices, lv.Price)
		}
	}
	sort.Float64s(prices)
	return prices
}

// UnrealizedPnl 计算按当前价格清算所有批次的浮动盈亏。
func UnrealizedPnl(currentPrice float64, lots []models.InventoryLot) float64 {
	var pnl float64
	for _, lot := range lots {
		pnl += (currentPrice - lot.EntryPrice) * lot.Amount
	}
	return pnl
}
