package recovery

import (
	"sync"
	"testing"
	"time"

	"grid-trader-go/internal/ledger"
	"grid-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func record(ref, symbol string, side models.Side, price, amount float64, at time.Time) models.TradeLogRecord {
	return models.TradeLogRecord{
		Timestamp: at, Symbol: symbol, Side: side,
		Price: price, Amount: amount, TradeRef: ref,
	}
}

func TestRebuild_ReplaysFIFO(t *testing.T) {
	l := ledger.New("BTCUSDT")
	now := time.Now()

	applied := Rebuild(l, []models.TradeLogRecord{
		record("b1", "BTCUSDT", models.Buy, 80, 0.3, now),
		record("b2", "BTCUSDT", models.Buy, 82, 0.5, now.Add(time.Second)),
		record("b3", "BTCUSDT", models.Buy, 84, 1.0, now.Add(2*time.Second)),
		record("s1", "BTCUSDT", models.Sell, 90, 1.0, now.Add(3*time.Second)),
	})
	assert.Equal(t, 4, applied)

	lots := l.Lots()
	require.Len(t, lots, 1)
	assert.InDelta(t, 84, lots[0].EntryPrice, 1e-9)
	assert.InDelta(t, 0.8, lots[0].Amount, 1e-9)
	assert.InDelta(t, 8.2, l.Snapshot().RealizedPnl, 1e-9)
}

func TestRebuild_SkipsOtherSymbolsAndDuplicates(t *testing.T) {
	l := ledger.New("BTCUSDT")
	now := time.Now()

	records := []models.TradeLogRecord{
		record("b1", "BTCUSDT", models.Buy, 100, 1.0, now),
		record("b1", "BTCUSDT", models.Buy, 100, 1.0, now), // 重复
		record("x1", "ETHUSDT", models.Buy, 2000, 1.0, now),
	}
	applied := Rebuild(l, records)
	assert.Equal(t, 1, applied)
	assert.InDelta(t, 1.0, l.TrackedAmount(), 1e-9)

	// 回放后再收到同样的成交不应重复应用
	res := l.ApplyFill(models.TradeFill{TradeRef: "b1", Side: models.Buy, Price: 100, Amount: 1.0})
	assert.False(t, res.Applied)
}

func TestReconcileBalance_AbsorbsSurplus(t *testing.T) {
	l := ledger.New("BTCUSDT")
	l.PushLot(models.InventoryLot{EntryPrice: 100, Amount: 1.0})
	n := &recordingNotifier{}

	adj := ReconcileBalance(l, 1.5, 105, 1e-8, n, time.Now())
	assert.InDelta(t, 0.5, adj, 1e-9)
	assert.InDelta(t, 1.5, l.TrackedAmount(), 1e-9)
	assert.Equal(t, 1, n.count())

	lots := l.Lots()
	require.Len(t, lots, 2)
	assert.Equal(t, "recovery", lots[1].SourceRef)
	assert.InDelta(t, 105, lots[1].EntryPrice, 1e-9)
}

func TestReconcileBalance_DiscardsFromTail(t *testing.T) {
	l := ledger.New("BTCUSDT")
	l.PushLot(models.InventoryLot{EntryPrice: 100, Amount: 1.0, SourceRef: "old"})
	l.PushLot(models.InventoryLot{EntryPrice: 105, Amount: 1.0, SourceRef: "new"})
	n := &recordingNotifier{}

	// 交易所只有1.4, 账本2.0: 丢弃队尾0.6
	adj := ReconcileBalance(l, 1.4, 105, 1e-8, n, time.Now())
	assert.InDelta(t, -0.6, adj, 1e-9)
	assert.InDelta(t, 1.4, l.TrackedAmount(), 1e-9)
	assert.Equal(t, 1, n.count())

	lots := l.Lots()
	require.Len(t, lots, 2)
	assert.Equal(t, "old", lots[0].SourceRef)
	assert.InDelta(t, 0.4, lots[1].Amount, 1e-9)
}

func TestReconcileBalance_DiscardsWholeLots(t *testing.T) {
	l := ledger.New("BTCUSDT")
	l.PushLot(models.InventoryLot{EntryPrice: 100, Amount: 1.0})
	l.PushLot(models.InventoryLot{EntryPrice: 105, Amount: 0.5})
	n := &recordingNotifier{}

	adj := ReconcileBalance(l, 0.2, 105, 1e-8, n, time.Now())
	assert.InDelta(t, -1.3, adj, 1e-9)
	assert.InDelta(t, 0.2, l.TrackedAmount(), 1e-9)
	assert.Equal(t, 1, l.OpenLots())
}

func TestReconcileBalance_IgnoresDust(t *testing.T) {
	l := ledger.New("BTCUSDT")
	l.PushLot(models.InventoryLot{EntryPrice: 100, Amount: 1.0})
	n := &recordingNotifier{}

	adj := ReconcileBalance(l, 1.0+1e-10, 105, 1e-8, n, time.Now())
	assert.Zero(t, adj)
	assert.Zero(t, n.count())
	assert.InDelta(t, 1.0, l.TrackedAmount(), 1e-9)
}

func TestReconcileBalance_Convergence(t *testing.T) {
	// 对账后 |tracked - venue| <= dust, 两个方向都成立
	for _, venue := range []float64{0, 0.3, 1.0, 2.7} {
		l := ledger.New("BTCUSDT")
		l.PushLot(models.InventoryLot{EntryPrice: 100, Amount: 0.6})
		l.PushLot(models.InventoryLot{EntryPrice: 101, Amount: 0.4})
		ReconcileBalance(l, venue, 100, 1e-8, &recordingNotifier{}, time.Now())
		assert.InDelta(t, venue, l.TrackedAmount(), 1e-8)
	}
}
