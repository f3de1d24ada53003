package ledger

import (
	"math"
	"sort"
	"sync"

	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
)

// 浮点数量的归零容差
const amountEpsilon = 1e-12

// Ledger 是单个交易对的持仓账本。
// 买入成交在队尾建立批次, 卖出成交按先进先出消耗批次并计算已实现盈亏。
// 写入只来自交易对自己的循环, 聚合任务并发读取, 因此内部加锁。
type Ledger struct {
	mu sync.Mutex

	symbol string
	lots   []models.InventoryLot
	seen   map[string]bool // 已应用的tradeRef, 幂等去重

	realizedPnl     float64 // 累计毛盈亏
	tradingPnl      float64 // 累计净盈亏 (扣除手续费)
	feesPaid        float64
	totalTrades     int
	completedCycles int
	winningTrades   int
	losingTrades    int
}

// FillResult 描述一次成交被应用后的结果。
type FillResult struct {
	Applied    bool    // 重复的tradeRef为false
	GrossPnl   float64 // 本次卖出的毛盈亏
	TradingPnl float64 // 本次卖出的净盈亏
	// 队列耗尽后按零成本计入的数量, 大于零说明账本与交易所不一致
	UnmatchedAmount float64
}

// New 创建一个空的持仓账本。
func New(symbol string) *Ledger {
	return &Ledger{
		symbol: symbol,
		seen:   make(map[string]bool),
	}
}

// Symbol 返回账本所属的交易对。
func (l *Ledger) Symbol() string {
	return l.symbol
}

// ApplyFill 把一笔成交应用到账本, 按tradeRef幂等。
// 买入在队尾建立批次; 卖出从队首开始消耗批次。
// 队列耗尽时剩余数量按零成本基础计入盈亏并记录不一致, 绝不报错。
func (l *Ledger) ApplyFill(fill models.TradeFill) FillResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fill.TradeRef == "" || l.seen[fill.TradeRef] {
		return FillResult{Applied: false}
	}
	l.seen[fill.TradeRef] = true
	l.totalTrades++

	if fill.Side == models.Buy {
		l.lots = append(l.lots, models.InventoryLot{
			EntryPrice: fill.Price,
			Amount:     fill.Amount,
			SourceRef:  fill.TradeRef,
			OpenedAt:   fill.Time,
		})
		l.feesPaid += fill.Fee
		l.tradingPnl -= fill.Fee
		return FillResult{Applied: true, TradingPnl: -fill.Fee}
	}

	// 卖出: 先进先出匹配
	remaining := fill.Amount
	var gross float64
	for remaining > amountEpsilon && len(l.lots) > 0 {
		lot := &l.lots[0]
		matched := math.Min(remaining, lot.Amount)
		gross += (fill.Price - lot.EntryPrice) * matched
		lot.Amount -= matched
		remaining -= matched
		if lot.Amount <= amountEpsilon {
			l.lots = l.lots[1:]
		}
	}

	var unmatched float64
	if remaining > amountEpsilon {
		// 账本里没有对应的买入批次, 按零成本计入
		unmatched = remaining
		gross += fill.Price * remaining
		logger.S().Warnf("%s 卖出 %.8f 时批次队列已空, 剩余 %.8f 按零成本计入盈亏",
			l.symbol, fill.Amount, remaining)
	}

	trading := gross - fill.Fee
	l.realizedPnl += gross
	l.tradingPnl += trading
	l.feesPaid += fill.Fee
	l.completedCycles++
	if trading > 0 {
		l.winningTrades++
	} else if trading < 0 {
		l.losingTrades++
	}

	return FillResult{
		Applied:         true,
		GrossPnl:        gross,
		TradingPnl:      trading,
		UnmatchedAmount: unmatched,
	}
}

// Seen 返回tradeRef是否已被应用过。
func (l *Ledger) Seen(tradeRef string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[tradeRef]
}

// TrackedAmount 返回账本跟踪的未平仓基础资产数量。
func (l *Ledger) TrackedAmount() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, lot := range l.lots {
		total += lot.Amount
	}
	return total
}

// Lots 返回所有未平仓批次的拷贝, 队首在前。
func (l *Ledger) Lots() []models.InventoryLot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.InventoryLot, len(l.lots))
	copy(out, l.lots)
	return out
}

// OpenLots 返回未平仓批次数量。
func (l *Ledger) OpenLots() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lots)
}

// PushLot 在队尾追加一个批次, 供对账吸收交易所多出的余额。
func (l *Ledger) PushLot(lot models.InventoryLot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lots = append(l.lots, lot)
}

// PopTail 弹出队尾批次, 供对账丢弃账本多出的持仓。
func (l *Ledger) PopTail() (models.InventoryLot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.lots) == 0 {
		return models.InventoryLot{}, false
	}
	lot := l.lots[len(l.lots)-1]
	l.lots = l.lots[:len(l.lots)-1]
	return lot, true
}

// ShrinkTail 把队尾批次减少给定数量, 供对账做部分修正。
func (l *Ledger) ShrinkTail(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.lots) == 0 {
		return
	}
	lot := &l.lots[len(l.lots)-1]
	lot.Amount -= amount
	if lot.Amount <= amountEpsilon {
		l.lots = l.lots[:len(l.lots)-1]
	}
}

// Stats 是账本计数器的一致性快照。
type Stats struct {
	RealizedPnl     float64
	TradingPnl      float64
	FeesPaid        float64
	TotalTrades     int
	CompletedCycles int
	WinningTrades   int
	LosingTrades    int
	OpenLots        int
	TrackedAmount   float64
}

// Snapshot 在单次加锁内读出全部计数器。
func (l *Ledger) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var tracked float64
	for _, lot := range l.lots {
		tracked += lot.Amount
	}
	return Stats{
		RealizedPnl:     l.realizedPnl,
		TradingPnl:      l.tradingPnl,
		FeesPaid:        l.feesPaid,
		TotalTrades:     l.totalTrades,
		CompletedCycles: l.completedCycles,
		WinningTrades:   l.winningTrades,
		LosingTrades:    l.losingTrades,
		OpenLots:        len(l.lots),
		TrackedAmount:   tracked,
	}
}

// AggregateFills 把同一订单的多笔部分成交合并为一笔逻辑成交:
// 价格按数量加权平均, 数量和手续费求和, 使一个订单作为整体参与匹配。
// 没有订单引用的成交原样保留。结果按时间升序。
func AggregateFills(fills []models.TradeFill) []models.TradeFill {
	if len(fills) <= 1 {
		return fills
	}

	byOrder := make(map[string]int)
	out := make([]models.TradeFill, 0, len(fills))
	for _, f := range fills {
		if f.OrderRef == "" {
			out = append(out, f)
			continue
		}
		idx, ok := byOrder[f.OrderRef]
		if !ok {
			byOrder[f.OrderRef] = len(out)
			out = append(out, f)
			continue
		}
		merged := out[idx]
		total := merged.Amount + f.Amount
		if total > 0 {
			merged.Price = (merged.Price*merged.Amount + f.Price*f.Amount) / total
		}
		merged.Amount = total
		merged.Fee += f.Fee
		if f.Time.After(merged.Time) {
			merged.Time = f.Time
		}
		out[idx] = merged
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
