package bot

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"grid-trader-go/internal/advisor"
	"grid-trader-go/internal/exchange"
	"grid-trader-go/internal/grid"
	"grid-trader-go/internal/ledger"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/notifier"
	"grid-trader-go/internal/orders"
	"grid-trader-go/internal/risk"
	"grid-trader-go/internal/tradelog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu    sync.Mutex
	saved []*models.BalanceSnapshot
}

func (m *memoryRepo) SaveSnapshot(s *models.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return nil
}

func (m *memoryRepo) LoadSnapshot() (*models.BalanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil, nil
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *memoryRepo) Close() error { return nil }

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func testBotConfig(t *testing.T) *models.Config {
	return &models.Config{
		Symbols:             []string{"BTCUSDT"},
		QuoteAsset:          "USDT",
		TradeLogPath:        filepath.Join(t.TempDir(), "trades.csv"),
		TotalBudget:         1000,
		GridLevels:          10,
		GridWidthPct:        0.10,
		LevelTolerance:      0.01,
		TickIntervalSec:     1,
		SnapshotIntervalSec: 1,
		RetryAttempts:       2,
		RetryDelayMs:        1,
		MaxConsecutiveFails: 3,
		MaxBackoffSec:       5,
		Risk: models.RiskConfig{
			TrailingStopPct:      0.50,
			OutOfRangeBufferPct:  0.05,
			RebalanceCooldownSec: 3600,
			MaxRebalanceGapSec:   7200,
			GapFractionPct:       0.90,
			GapGraceSec:          3600,
			WideGapFactor:        2.0,
			ShedCooldownSec:      3600,
			DustThreshold:        1e-8,
		},
	}
}

// newTickTrader 组装一个可以手动驱动runTick的纸面交易机器人。
func newTickTrader(t *testing.T, paper *exchange.PaperExchange) (*GridTrader, *symbolState) {
	cfg := testBotConfig(t)
	writer, err := tradelog.NewWriter(cfg.TradeLogPath)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	trader := New(cfg, paper, &memoryRepo{}, writer, notifier.Noop{}, advisor.Fixed{}, true)
	trader.killSwitch = risk.NewKillSwitch(10000, 0)

	info, err := paper.GetMarketInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	now := time.Now()
	s := &symbolState{
		symbol:     "BTCUSDT",
		ledger:     ledger.New("BTCUSDT"),
		manager:    orders.NewManager("BTCUSDT", paper, 2, time.Millisecond),
		info:       info,
		shedOrders: make(map[string]shedOrder),
		lastSync:   now.Add(-time.Hour),
	}
	s.ladder = grid.New(models.GridConfig{
		Symbol: "BTCUSDT", LowerPrice: 90, UpperPrice: 110, NumLevels: 10, TotalBudget: 1000,
	}, 100, 0, 0.01)
	s.riskCtl = risk.NewController("BTCUSDT", cfg.Risk, 100, now)
	s.setLastPrice(100)
	trader.symbols["BTCUSDT"] = s
	return trader, s
}

func TestRunTick_PlacesInitialBuyOrders(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	paper.SetPrice("BTCUSDT", 100)
	trader, _ := newTickTrader(t, paper)

	require.NoError(t, trader.runTick(context.Background(), trader.symbols["BTCUSDT"]))

	// 5个买档都应有挂单; 没有库存, 卖档全部跳过
	refs, err := paper.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, refs, 5)
}

func TestRunTick_FullBuySellCycle(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	paper.SetPrice("BTCUSDT", 100)
	trader, s := newTickTrader(t, paper)
	ctx := context.Background()

	// 第一轮: 挂买单
	require.NoError(t, trader.runTick(ctx, s))

	// 价格下穿98和96: 两笔买入成交, 账本建立批次
	paper.SetPrice("BTCUSDT", 95)
	require.NoError(t, trader.runTick(ctx, s))

	assert.Equal(t, 2, s.ledger.OpenLots())
	assert.Greater(t, s.ledger.TrackedAmount(), 0.0)

	// 有了库存之后卖档挂上了卖单
	var sellRefs int
	for _, lv := range s.ladder.ActiveLevels() {
		if lv.Side == models.Sell && lv.OrderRef != "" {
			sellRefs++
		}
	}
	assert.GreaterOrEqual(t, sellRefs, 2)

	// 价格回升穿过102: 卖出成交, 实现盈利
	paper.SetPrice("BTCUSDT", 103)
	require.NoError(t, trader.runTick(ctx, s))

	stats := s.ledger.Snapshot()
	assert.GreaterOrEqual(t, stats.CompletedCycles, 1)
	assert.Greater(t, stats.RealizedPnl, 0.0)

	// 全程成交都写进了日志
	records, err := tradelog.ReadAll(trader.cfg.TradeLogPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(records), 3)
}

func TestRunTick_IdempotentAcrossTicks(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	paper.SetPrice("BTCUSDT", 100)
	trader, s := newTickTrader(t, paper)
	ctx := context.Background()

	require.NoError(t, trader.runTick(ctx, s))
	paper.SetPrice("BTCUSDT", 95)
	require.NoError(t, trader.runTick(ctx, s))
	stats := s.ledger.Snapshot()

	// 价格不变的空转周期不应改变账本
	require.NoError(t, trader.runTick(ctx, s))
	require.NoError(t, trader.runTick(ctx, s))
	assert.Equal(t, stats, s.ledger.Snapshot())
}

func TestBuildSnapshot_AggregatesSymbols(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	paper.SetPrice("BTCUSDT", 100)
	trader, s := newTickTrader(t, paper)

	s.ledger.ApplyFill(models.TradeFill{
		TradeRef: "b1", Symbol: "BTCUSDT", Side: models.Buy, Price: 100, Amount: 1.0, Time: time.Now(),
	})

	snapshot := trader.buildSnapshot(context.Background())
	require.NotNil(t, snapshot)
	assert.Equal(t, models.SnapshotSchemaVersion, snapshot.SchemaVersion)
	assert.Equal(t, 1, snapshot.Symbols["BTCUSDT"].OpenLots)
	// 总价值 = 计价余额 + 持仓市值
	assert.InDelta(t, snapshot.CurrentBalance+100.0, snapshot.TotalValue, 1e-6)
}

func TestEvaluateRisk_TrailingStopCancelsShedOrders(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	paper.SetPrice("BTCUSDT", 100)
	trader, s := newTickTrader(t, paper)
	ctx := context.Background()

	// 建立2.0持仓, 全部被一笔减仓卖单冻结
	buyRef, err := paper.CreateOrder(ctx, "BTCUSDT", exchange.OrderTypeLimit, models.Buy, 2.0, 100)
	require.NoError(t, err)
	require.NoError(t, paper.FillOrder(buyRef, time.Now()))
	s.ledger.ApplyFill(models.TradeFill{
		TradeRef: "t1", OrderRef: buyRef, Symbol: "BTCUSDT", Side: models.Buy, Price: 100, Amount: 2.0, Time: time.Now(),
	})

	shedRef, err := s.manager.PlaceLimitSell(ctx, 2.0, 120, s.info)
	require.NoError(t, err)
	s.shedOrders[shedRef] = shedOrder{price: 120, amount: 2.0}

	// 深度回撤触发追踪止损; 减仓卖单必须先被撤掉, 清仓才有余额可卖
	paper.SetPrice("BTCUSDT", 45)
	require.NoError(t, trader.evaluateRisk(ctx, s, 45))

	assert.Empty(t, s.shedOrders)
	refs, err := paper.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, refs)

	balances, err := paper.GetBalances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, balances["BTC"].Total, 1e-8)
}

func TestHalt_CancelsShedOrders(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	paper.SetPrice("BTCUSDT", 100)
	trader, s := newTickTrader(t, paper)
	ctx := context.Background()

	buyRef, err := paper.CreateOrder(ctx, "BTCUSDT", exchange.OrderTypeLimit, models.Buy, 1.0, 100)
	require.NoError(t, err)
	require.NoError(t, paper.FillOrder(buyRef, time.Now()))

	shedRef, err := s.manager.PlaceLimitSell(ctx, 1.0, 120, s.info)
	require.NoError(t, err)
	s.shedOrders[shedRef] = shedOrder{price: 120, amount: 1.0}

	trader.halt("test halt")
	trader.wg.Add(1)
	go trader.runLoop(ctx, s)
	trader.wg.Wait()

	// 熔断退出时减仓卖单和网格挂单一起被撤
	assert.Empty(t, s.shedOrders)
	refs, err := paper.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestHalt_StopsPlacingOrders(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	paper.SetPrice("BTCUSDT", 100)
	trader, _ := newTickTrader(t, paper)

	trader.halt("test halt")
	assert.True(t, trader.isHalted())

	// 熔断后循环直接退出, 不再下任何订单
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trader.wg.Add(1)
	go trader.runLoop(ctx, trader.symbols["BTCUSDT"])
	trader.wg.Wait()

	refs, err := paper.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestStartStop_Lifecycle(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	paper.SetPrice("BTCUSDT", 100)

	cfg := testBotConfig(t)
	writer, err := tradelog.NewWriter(cfg.TradeLogPath)
	require.NoError(t, err)
	defer writer.Close()

	repo := &memoryRepo{}
	trader := New(cfg, paper, repo, writer, notifier.Noop{}, advisor.Fixed{}, true)

	require.NoError(t, trader.Start(context.Background()))
	assert.InDelta(t, 10000.0, trader.initialBalance, 1e-6)
	trader.Stop()

	// 停止时写入最终快照
	assert.GreaterOrEqual(t, repo.count(), 1)
	last, err := repo.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.InDelta(t, 10000.0, last.InitialBalance, 1e-6)
}

func TestBackoff_Capped(t *testing.T) {
	paper := exchange.NewPaperExchange("USDT", 10000, 0)
	trader, _ := newTickTrader(t, paper)

	base := time.Second
	assert.Equal(t, base, trader.backoff(1, base))
	assert.Equal(t, 2*time.Second, trader.backoff(2, base))
	assert.Equal(t, 4*time.Second, trader.backoff(3, base))
	// 封顶在 MaxBackoffSec
	assert.Equal(t, 5*time.Second, trader.backoff(10, base))
	assert.Equal(t, 5*time.Second, trader.backoff(100, base))
}
