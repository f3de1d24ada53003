package ledger

import (
	"fmt"
	"testing"
	"time"

	"grid-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buy(ref string, price, amount float64) models.TradeFill {
	return models.TradeFill{
		TradeRef: ref, Symbol: "BTCUSDT", Side: models.Buy,
		Price: price, Amount: amount, Time: time.Now(),
	}
}

func sell(ref string, price, amount, fee float64) models.TradeFill {
	return models.TradeFill{
		TradeRef: ref, Symbol: "BTCUSDT", Side: models.Sell,
		Price: price, Amount: amount, Fee: fee, Time: time.Now(),
	}
}

func TestApplyFill_FIFOMatching(t *testing.T) {
	l := New("BTCUSDT")
	l.ApplyFill(buy("b1", 80, 0.3))
	l.ApplyFill(buy("b2", 82, 0.5))
	l.ApplyFill(buy("b3", 84, 1.0))

	res := l.ApplyFill(sell("s1", 90, 1.0, 0))
	require.True(t, res.Applied)

	// (90-80)*0.3 + (90-82)*0.5 + (90-84)*0.2 = 8.2
	assert.InDelta(t, 8.2, res.GrossPnl, 1e-9)
	assert.Zero(t, res.UnmatchedAmount)

	lots := l.Lots()
	require.Len(t, lots, 1)
	assert.InDelta(t, 84, lots[0].EntryPrice, 1e-9)
	assert.InDelta(t, 0.8, lots[0].Amount, 1e-9)
}

func TestApplyFill_Idempotent(t *testing.T) {
	l := New("BTCUSDT")
	l.ApplyFill(buy("b1", 100, 1.0))
	first := l.ApplyFill(sell("s1", 110, 0.5, 0.1))
	require.True(t, first.Applied)
	before := l.Snapshot()

	again := l.ApplyFill(sell("s1", 110, 0.5, 0.1))
	assert.False(t, again.Applied)
	assert.Equal(t, before, l.Snapshot())
}

func TestApplyFill_MatchedNeverExceedsBought(t *testing.T) {
	l := New("BTCUSDT")
	var bought float64
	for i := 0; i < 5; i++ {
		amount := 0.1 * float64(i+1)
		l.ApplyFill(buy(fmt.Sprintf("b%d", i), 100, amount))
		bought += amount
	}

	res := l.ApplyFill(sell("s1", 105, bought+1.0, 0))
	require.True(t, res.Applied)

	// 超出买入总量的部分按零成本计入并上报
	assert.InDelta(t, 1.0, res.UnmatchedAmount, 1e-9)
	assert.InDelta(t, 5*bought+105*1.0, res.GrossPnl, 1e-9)
	assert.Zero(t, l.TrackedAmount())
}

func TestApplyFill_TradingPnlSubtractsFee(t *testing.T) {
	l := New("BTCUSDT")
	l.ApplyFill(buy("b1", 100, 1.0))

	res := l.ApplyFill(sell("s1", 110, 1.0, 2.5))
	assert.InDelta(t, 10.0, res.GrossPnl, 1e-9)
	assert.InDelta(t, 7.5, res.TradingPnl, 1e-9)

	stats := l.Snapshot()
	assert.InDelta(t, 10.0, stats.RealizedPnl, 1e-9)
	assert.InDelta(t, 7.5, stats.TradingPnl, 1e-9)
	assert.InDelta(t, 2.5, stats.FeesPaid, 1e-9)
}

func TestApplyFill_Counters(t *testing.T) {
	l := New("BTCUSDT")
	l.ApplyFill(buy("b1", 100, 1.0))
	l.ApplyFill(buy("b2", 100, 1.0))
	l.ApplyFill(sell("s1", 110, 1.0, 0)) // 盈利
	l.ApplyFill(sell("s2", 90, 1.0, 0))  // 亏损

	stats := l.Snapshot()
	assert.Equal(t, 4, stats.TotalTrades)
	assert.Equal(t, 2, stats.CompletedCycles)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.Equal(t, 0, stats.OpenLots)
}

func TestApplyFill_PartialLotConsumption(t *testing.T) {
	l := New("BTCUSDT")
	l.ApplyFill(buy("b1", 100, 2.0))

	l.ApplyFill(sell("s1", 105, 0.5, 0))
	l.ApplyFill(sell("s2", 105, 0.5, 0))

	lots := l.Lots()
	require.Len(t, lots, 1)
	assert.InDelta(t, 1.0, lots[0].Amount, 1e-9)
	assert.InDelta(t, 1.0, l.TrackedAmount(), 1e-9)
}

func TestPushLotAndPopTail(t *testing.T) {
	l := New("BTCUSDT")
	l.PushLot(models.InventoryLot{EntryPrice: 100, Amount: 1.0, SourceRef: "a"})
	l.PushLot(models.InventoryLot{EntryPrice: 105, Amount: 0.5, SourceRef: "b"})

	lot, ok := l.PopTail()
	require.True(t, ok)
	assert.Equal(t, "b", lot.SourceRef)
	assert.Equal(t, 1, l.OpenLots())

	_, ok = l.PopTail()
	require.True(t, ok)
	_, ok = l.PopTail()
	assert.False(t, ok)
}

func TestShrinkTail(t *testing.T) {
	l := New("BTCUSDT")
	l.PushLot(models.InventoryLot{EntryPrice: 100, Amount: 1.0})
	l.ShrinkTail(0.4)
	assert.InDelta(t, 0.6, l.TrackedAmount(), 1e-9)

	l.ShrinkTail(0.6)
	assert.Equal(t, 0, l.OpenLots())
}

func TestAggregateFills_MergesByOrderRef(t *testing.T) {
	now := time.Now()
	fills := []models.TradeFill{
		{TradeRef: "t1", OrderRef: "o1", Side: models.Buy, Price: 100, Amount: 0.4, Fee: 0.1, Time: now},
		{TradeRef: "t2", OrderRef: "o1", Side: models.Buy, Price: 102, Amount: 0.6, Fee: 0.2, Time: now.Add(time.Second)},
		{TradeRef: "t3", OrderRef: "o2", Side: models.Sell, Price: 110, Amount: 1.0, Fee: 0.3, Time: now.Add(2 * time.Second)},
	}

	out := AggregateFills(fills)
	require.Len(t, out, 2)

	merged := out[0]
	assert.Equal(t, "o1", merged.OrderRef)
	assert.InDelta(t, 1.0, merged.Amount, 1e-9)
	// (100*0.4 + 102*0.6) / 1.0 = 101.2
	assert.InDelta(t, 101.2, merged.Price, 1e-9)
	assert.InDelta(t, 0.3, merged.Fee, 1e-9)

	assert.Equal(t, "o2", out[1].OrderRef)
}

func TestAggregateFills_KeepsUnreferencedFills(t *testing.T) {
	fills := []models.TradeFill{
		{TradeRef: "t1", Price: 100, Amount: 1.0, Time: time.Now()},
		{TradeRef: "t2", Price: 101, Amount: 1.0, Time: time.Now()},
	}
	out := AggregateFills(fills)
	assert.Len(t, out, 2)
}
