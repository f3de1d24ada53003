package bot

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"grid-trader-go/internal/advisor"
	"grid-trader-go/internal/exchange"
	"grid-trader-go/internal/grid"
	"grid-trader-go/internal/ledger"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/notifier"
	"grid-trader-go/internal/orders"
	"grid-trader-go/internal/persistence"
	"grid-trader-go/internal/recovery"
	"grid-trader-go/internal/reporter"
	"grid-trader-go/internal/risk"
	"grid-trader-go/internal/tradelog"
)

// symbolState 聚集单个交易对的全部状态。
// 除账本外只被该交易对自己的循环访问; lastPrice 供聚合任务读取, 单独加锁。
type symbolState struct {
	symbol  string
	ledger  *ledger.Ledger
	ladder  *grid.Ladder
	manager *orders.Manager
	riskCtl *risk.Controller
	info    *models.MarketInfo

	lastSync time.Time // 成交同步水位线

	// 在途减仓卖单, 按订单引用索引
	shedOrders map[string]shedOrder

	priceMu   sync.Mutex
	lastPrice float64

	consecutiveFails int
}

// shedOrder 记录一笔减仓卖单的参数, 纸面模式下据此判定成交。
type shedOrder struct {
	price  float64
	amount float64
}

func (s *symbolState) setLastPrice(p float64) {
	s.priceMu.Lock()
	s.lastPrice = p
	s.priceMu.Unlock()
}

func (s *symbolState) getLastPrice() float64 {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	return s.lastPrice
}

// GridTrader 驱动所有交易对的网格交易循环。
// 每个交易对一个goroutine, 外加一个周期性聚合快照并评估全局熔断的goroutine。
type GridTrader struct {
	cfg       *models.Config
	ex        exchange.Exchange
	repo      persistence.SnapshotRepository
	trades    *tradelog.Writer
	notify    notifier.Notifier
	adv       advisor.Advisor
	paperMode bool

	killSwitch *risk.KillSwitch
	symbols    map[string]*symbolState

	mu             sync.Mutex
	initialBalance float64
	halted         bool
	haltReason     string

	saveChan chan *models.BalanceSnapshot
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New 创建交易机器人。paperMode为真时档位穿越由本地价格判定,
// 实盘模式下成交只来自交易所成交记录。
func New(cfg *models.Config, ex exchange.Exchange, repo persistence.SnapshotRepository,
	trades *tradelog.Writer, notify notifier.Notifier, adv advisor.Advisor, paperMode bool) *GridTrader {
	return &GridTrader{
		cfg:       cfg,
		ex:        ex,
		repo:      repo,
		trades:    trades,
		notify:    notify,
		adv:       adv,
		paperMode: paperMode,
		symbols:   make(map[string]*symbolState),
		saveChan:  make(chan *models.BalanceSnapshot, 4),
	}
}

// Start 恢复状态, 重建网格并启动所有循环。启动失败是致命错误。
func (t *GridTrader) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel

	snapshot, err := t.repo.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("加载余额快照失败: %w", err)
	}
	if snapshot != nil && snapshot.Halted {
		msg := fmt.Sprintf("上次运行因熔断停止 (%s), 本次启动视为人工复位", snapshot.HaltReason)
		logger.S().Warn(msg)
		t.notify.Notify(msg)
	}

	balances, err := t.ex.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("获取账户余额失败: %w", err)
	}

	records, err := tradelog.ReadAll(t.cfg.TradeLogPath)
	if err != nil {
		return fmt.Errorf("读取成交日志失败: %w", err)
	}

	totalValue := balances[t.cfg.QuoteAsset].Total
	now := time.Now()

	for _, symbol := range t.cfg.Symbols {
		info, err := t.ex.GetMarketInfo(ctx, symbol)
		if err != nil {
			return fmt.Errorf("获取 %s 交易规则失败: %w", symbol, err)
		}
		price, err := t.ex.GetTicker(ctx, symbol)
		if err != nil {
			return fmt.Errorf("获取 %s 价格失败: %w", symbol, err)
		}

		s := &symbolState{
			symbol:     symbol,
			ledger:     ledger.New(symbol),
			manager:    orders.NewManager(symbol, t.ex, t.cfg.RetryAttempts, time.Duration(t.cfg.RetryDelayMs)*time.Millisecond),
			info:       info,
			shedOrders: make(map[string]shedOrder),
			lastSync:   now,
		}
		s.setLastPrice(price)

		// 回放成交日志重建账本, 水位线推进到最后一条记录之后,
		// 让停机期间的成交在首个周期被补齐
		recovery.Rebuild(s.ledger, records)
		var lastRecorded time.Time
		for _, r := range records {
			if r.Symbol == symbol && r.Timestamp.After(lastRecorded) {
				lastRecorded = r.Timestamp
			}
		}
		if !lastRecorded.IsZero() {
			s.lastSync = lastRecorded.Add(time.Millisecond)
		}

		// 与交易所报告的余额对账
		venueBase := balances[info.BaseAsset].Total
		recovery.ReconcileBalance(s.ledger, venueBase, price, t.cfg.Risk.DustThreshold, t.notify, now)
		totalValue += s.ledger.TrackedAmount() * price

		// 取消遗留挂单, 从一个干净的状态开始
		if refs, err := t.ex.GetOpenOrders(ctx, symbol); err == nil && len(refs) > 0 {
			logger.S().Infof("%s 取消 %d 个遗留挂单...", symbol, len(refs))
			for _, ref := range refs {
				if err := t.ex.CancelOrder(ctx, ref, symbol); err != nil {
					logger.S().Warnf("%s 取消遗留订单 %s 失败: %v", symbol, ref, err)
				}
			}
		}

		if err := t.initGrid(ctx, s, price); err != nil {
			return fmt.Errorf("初始化 %s 网格失败: %w", symbol, err)
		}
		s.riskCtl = risk.NewController(symbol, t.cfg.Risk, price, now)
		t.symbols[symbol] = s
	}

	// 初始资金首写生效, 只允许从零引导
	t.initialBalance = totalValue
	if snapshot != nil && snapshot.InitialBalance > 0 {
		t.initialBalance = snapshot.InitialBalance
	}
	t.killSwitch = risk.NewKillSwitch(t.initialBalance, t.cfg.Risk.MaxTotalLossPct)
	logger.S().Infof("启动完成: 初始资金 %.4f, 当前总价值 %.4f, %d 个交易对",
		t.initialBalance, totalValue, len(t.symbols))
	t.notify.Notify(fmt.Sprintf("网格机器人已启动: %d 个交易对, 总价值 %.4f", len(t.symbols), totalValue))

	for _, s := range t.symbols {
		t.wg.Add(1)
		go t.runLoop(ctx, s)
	}
	t.wg.Add(2)
	go t.runAggregator(ctx)
	go t.runPersister()

	return nil
}

// Stop 取消所有循环, 尽力撤掉挂单并写入最终快照。
func (t *GridTrader) Stop() {
	logger.S().Info("正在停止交易机器人...")
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()

	// 循环已退出, 用带时限的新上下文尽力撤单
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, s := range t.symbols {
		cancelled := s.manager.CancelAll(ctx, s.ladder.ActiveLevels())
		t.cancelShedOrders(ctx, s)
		logger.S().Infof("%s 已撤销 %d 个挂单", s.symbol, cancelled)
	}

	if snapshot := t.buildSnapshot(ctx); snapshot != nil {
		if err := t.repo.SaveSnapshot(snapshot); err != nil {
			logger.S().Errorf("写入最终快照失败: %v", err)
		}
	}
	t.notify.Notify("网格机器人已停止")
	logger.S().Info("交易机器人已停止。")
}

// runLoop 是单个交易对的主循环: 同步成交 -> 风控 -> 维护订单。
// 连续失败时指数退避, 达到阈值后强制重建交易所会话。
func (t *GridTrader) runLoop(ctx context.Context, s *symbolState) {
	defer t.wg.Done()

	interval := time.Duration(t.cfg.TickIntervalSec) * time.Second
	for {
		if t.isHalted() {
			logger.S().Warnf("%s 循环因全局熔断退出", s.symbol)
			s.manager.CancelAll(ctx, s.ladder.ActiveLevels())
			t.cancelShedOrders(ctx, s)
			return
		}

		if err := t.runTick(ctx, s); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.consecutiveFails++
			logger.S().Errorf("%s 循环出错 (连续第%d次): %v", s.symbol, s.consecutiveFails, err)

			if s.consecutiveFails >= t.cfg.MaxConsecutiveFails {
				logger.S().Warnf("%s 连续失败达到 %d 次, 强制重建交易所会话", s.symbol, s.consecutiveFails)
				if resetErr := t.ex.Reset(ctx); resetErr != nil {
					logger.S().Errorf("重建交易所会话失败: %v", resetErr)
				} else {
					s.consecutiveFails = 0
				}
			}

			if !sleepCtx(ctx, t.backoff(s.consecutiveFails, interval)) {
				return
			}
			continue
		}

		s.consecutiveFails = 0
		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

// backoff 返回第n次连续失败后的等待时长, 指数增长并封顶。
func (t *GridTrader) backoff(fails int, base time.Duration) time.Duration {
	if fails <= 0 {
		return base
	}
	max := time.Duration(t.cfg.MaxBackoffSec) * time.Second
	d := base * time.Duration(1<<uint(fails-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}

// runTick 执行一个完整的循环周期。
func (t *GridTrader) runTick(ctx context.Context, s *symbolState) error {
	price, err := t.ex.GetTicker(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("获取价格失败: %w", err)
	}
	s.setLastPrice(price)

	// 纸面模式: 本地判定档位穿越并在模拟交易所上成交对应订单。
	// 实盘模式绝不走这条路径, 成交只来自交易所成交记录。
	if t.paperMode {
		t.fillSimulated(s, price)
	}

	if err := t.syncTrades(ctx, s); err != nil {
		return fmt.Errorf("同步成交失败: %w", err)
	}

	if err := t.evaluateRisk(ctx, s, price); err != nil {
		return fmt.Errorf("执行风控动作失败: %w", err)
	}

	return t.maintainOrders(ctx, s)
}

// fillSimulated 在纸面模式下把被价格穿越的档位订单转为成交。
func (t *GridTrader) fillSimulated(s *symbolState, price float64) {
	paper, ok := t.ex.(*exchange.PaperExchange)
	if !ok {
		return
	}
	now := time.Now()
	for _, level := range s.ladder.CheckSimulatedFills(price) {
		if level.OrderRef == "" {
			continue
		}
		if err := paper.FillOrder(level.OrderRef, now); err != nil {
			logger.S().Warnf("%s 模拟成交订单 %s 失败: %v", s.symbol, level.OrderRef, err)
		}
	}
	for ref, shed := range s.shedOrders {
		if price >= shed.price {
			if err := paper.FillOrder(ref, now); err != nil {
				logger.S().Warnf("%s 模拟成交减仓订单 %s 失败: %v", s.symbol, ref, err)
			}
		}
	}
}

// syncTrades 拉取新成交, 聚合同一订单的部分成交后应用到账本,
// 更新网格档位并写入成交日志。
func (t *GridTrader) syncTrades(ctx context.Context, s *symbolState) error {
	fills, err := t.ex.GetMyTrades(ctx, s.symbol, s.lastSync, 200)
	if err != nil {
		return err
	}
	if len(fills) == 0 {
		return nil
	}

	for _, f := range fills {
		if next := f.Time.Add(time.Millisecond); next.After(s.lastSync) {
			s.lastSync = next
		}
	}

	for _, fill := range ledger.AggregateFills(fills) {
		res := s.ledger.ApplyFill(fill)
		if !res.Applied {
			continue
		}

		delete(s.shedOrders, fill.OrderRef)
		if level := s.ladder.FindByOrderRef(fill.OrderRef); level != nil {
			level.OrderRef = ""
			s.ladder.MarkFilled(level, fill.Time)
		}

		msg := fmt.Sprintf("%s %s 成交: %.8f @ %.8f", s.symbol, fill.Side, fill.Amount, fill.Price)
		if fill.Side == models.Sell {
			msg += fmt.Sprintf(", 净盈亏 %.8f", res.TradingPnl)
		}
		logger.S().Info(msg)
		t.notify.Notify(msg)

		if res.UnmatchedAmount > 0 {
			t.notify.Notify(fmt.Sprintf("%s 数据不一致: 卖出 %.8f 中有 %.8f 无法匹配买入批次, 已按零成本计入",
				s.symbol, fill.Amount, res.UnmatchedAmount))
		}

		if err := t.appendTradeRecord(ctx, s, fill, res); err != nil {
			logger.S().Errorf("%s 写入成交日志失败: %v", s.symbol, err)
		}
	}
	return nil
}

// appendTradeRecord 把一笔已应用的成交写进只追加的成交日志。
func (t *GridTrader) appendTradeRecord(ctx context.Context, s *symbolState, fill models.TradeFill, res ledger.FillResult) error {
	balance := 0.0
	if balances, err := t.ex.GetBalances(ctx); err == nil {
		balance = balances[t.cfg.QuoteAsset].Total
	}

	totalValue := balance
	for _, other := range t.symbols {
		totalValue += other.ledger.TrackedAmount() * other.getLastPrice()
	}

	stats := s.ledger.Snapshot()
	return t.trades.Append(models.TradeLogRecord{
		Timestamp:   fill.Time,
		Symbol:      s.symbol,
		Side:        fill.Side,
		Price:       fill.Price,
		Amount:      fill.Amount,
		Value:       fill.Price * fill.Amount,
		TradeRef:    fill.TradeRef,
		Fee:         fill.Fee,
		TradingPnl:  res.TradingPnl,
		RealizedPnl: stats.RealizedPnl,
		Balance:     balance,
		TotalValue:  totalValue,
		Inventory:   stats.TrackedAmount,
	})
}

// evaluateRisk 按优先级评估风控规则并执行命中的动作。
func (t *GridTrader) evaluateRisk(ctx context.Context, s *symbolState, price float64) error {
	gap, inside := s.ladder.NearestGap(price)
	cfg := s.ladder.Config()
	decision := s.riskCtl.Evaluate(price, risk.Inputs{
		GridLower:      cfg.LowerPrice,
		GridUpper:      cfg.UpperPrice,
		Gap:            gap,
		PriceInsideGap: inside,
		Lots:           s.ledger.Lots(),
	}, time.Now())

	switch decision.Action {
	case risk.ActionNone:
		return nil

	case risk.ActionTrailingStop:
		logger.S().Errorf("%s 追踪止损: %s", s.symbol, decision.Reason)
		t.notify.Notify(fmt.Sprintf("⚠️ %s %s", s.symbol, decision.Reason))

		s.manager.CancelAll(ctx, s.ladder.ActiveLevels())
		// 减仓卖单也必须先撤掉, 否则被冻结的持仓会让市价清仓失败
		t.cancelShedOrders(ctx, s)
		if tracked := s.ledger.TrackedAmount(); tracked > t.cfg.Risk.DustThreshold {
			if _, err := s.manager.MarketSell(ctx, tracked, s.info); err != nil {
				return fmt.Errorf("止损清仓失败: %w", err)
			}
		}
		if err := t.initGrid(ctx, s, price); err != nil {
			return err
		}
		s.riskCtl.NoteRebalance(price, time.Now())
		return nil

	case risk.ActionRebalance:
		logger.S().Warnf("%s 再平衡: %s", s.symbol, decision.Reason)
		t.notify.Notify(fmt.Sprintf("%s %s", s.symbol, decision.Reason))

		s.manager.CancelAll(ctx, s.ladder.ActiveLevels())
		if err := t.initGrid(ctx, s, price); err != nil {
			return err
		}
		s.riskCtl.NoteRebalance(price, time.Now())
		return nil

	case risk.ActionShed:
		logger.S().Warnf("%s 减仓: %s", s.symbol, decision.Reason)
		t.notify.Notify(fmt.Sprintf("%s %s", s.symbol, decision.Reason))

		ref, err := s.manager.PlaceLimitSell(ctx, decision.ShedAmount, decision.ShedPrice, s.info)
		if err != nil {
			return fmt.Errorf("减仓下单失败: %w", err)
		}
		s.shedOrders[ref] = shedOrder{price: decision.ShedPrice, amount: decision.ShedAmount}
		s.riskCtl.NoteShed(time.Now())
		return nil
	}
	return nil
}

// cancelShedOrders 尽力撤销全部在途减仓卖单并清空跟踪表。
func (t *GridTrader) cancelShedOrders(ctx context.Context, s *symbolState) {
	for ref := range s.shedOrders {
		if err := t.ex.CancelOrder(ctx, ref, s.symbol); err != nil {
			logger.S().Warnf("%s 取消减仓订单 %s 失败: %v", s.symbol, ref, err)
		}
		delete(s.shedOrders, ref)
	}
}

// maintainOrders 与交易所挂单列表对账, 然后为缺少订单的档位补单。
func (t *GridTrader) maintainOrders(ctx context.Context, s *symbolState) error {
	openRefs, err := t.ex.GetOpenOrders(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("获取挂单列表失败: %w", err)
	}

	active := s.ladder.ActiveLevels()
	for _, level := range s.manager.ReconcileOrders(openRefs, active) {
		// 疑似成交, 权威确认仍来自下一轮成交同步
		s.ladder.MarkFilled(level, time.Now())
	}

	// 可用库存 = 账本持仓 - 已挂卖单占用 - 减仓卖单占用
	available := s.ledger.TrackedAmount()
	active = s.ladder.ActiveLevels()
	for _, level := range active {
		if level.Side == models.Sell && level.OrderRef != "" {
			available -= level.Amount
		}
	}
	open := make(map[string]bool, len(openRefs))
	for _, ref := range openRefs {
		open[ref] = true
	}
	for ref, shed := range s.shedOrders {
		if open[ref] {
			available -= shed.amount
		} else {
			// 已成交 (下一轮同步确认) 或被人工撤销
			delete(s.shedOrders, ref)
		}
	}

	_, err = s.manager.EnsureOrders(ctx, active, s.info, math.Max(available, 0))
	return err
}

// initGrid 依据顾问建议 (或固定默认值) 在当前价格周围重建网格。
func (t *GridTrader) initGrid(ctx context.Context, s *symbolState, price float64) error {
	width := t.cfg.GridWidthPct
	bias := t.cfg.CenterBiasPct
	levels := t.cfg.GridLevels
	reason := "固定默认参数"

	if t.cfg.UseAdvisor {
		candles, err := t.ex.GetOHLCV(ctx, s.symbol, t.cfg.KlineInterval, t.cfg.KlineLimit)
		if err != nil {
			logger.S().Warnf("%s 获取K线失败, 回退到固定网格参数: %v", s.symbol, err)
		} else if advice, err := t.adv.Advise(ctx, s.symbol, candles); err != nil {
			logger.S().Warnf("%s 顾问出错, 回退到固定网格参数: %v", s.symbol, err)
		} else {
			width = advice.WidthPct
			bias = advice.CenterBias
			if advice.RecommendedLevels > 0 {
				levels = advice.RecommendedLevels
			}
			reason = advice.Reason
		}
	}

	center := price * (1 + bias)
	gridCfg := models.GridConfig{
		Symbol:      s.symbol,
		UpperPrice:  center * (1 + width),
		LowerPrice:  center * (1 - width),
		NumLevels:   levels,
		TotalBudget: t.cfg.TotalBudget,
	}
	if gridCfg.LowerPrice >= price || gridCfg.UpperPrice <= price {
		// 中心偏移过大会把现价推出区间, 回退到无偏移网格
		logger.S().Warnf("%s 网格区间 [%.8f, %.8f] 不包含现价 %.8f, 改用无偏移网格",
			s.symbol, gridCfg.LowerPrice, gridCfg.UpperPrice, price)
		gridCfg.UpperPrice = price * (1 + width)
		gridCfg.LowerPrice = price * (1 - width)
	}

	s.ladder = grid.New(gridCfg, price, s.info.MinNotional, t.cfg.LevelTolerance)
	t.notify.Notify(fmt.Sprintf("%s 网格已重建: [%.4f, %.4f] %d 档 (%s)",
		s.symbol, gridCfg.LowerPrice, gridCfg.UpperPrice, gridCfg.NumLevels, reason))
	return nil
}

// runAggregator 周期性汇总所有交易对的状态, 评估全局熔断并持久化快照。
func (t *GridTrader) runAggregator(ctx context.Context) {
	defer t.wg.Done()

	interval := time.Duration(t.cfg.SnapshotIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(t.saveChan)
			return
		case <-ticker.C:
			snapshot := t.buildSnapshot(ctx)
			if snapshot == nil {
				continue
			}

			if !t.isHalted() && t.killSwitch.Check(snapshot.TotalValue) {
				_, reason := t.killSwitch.Tripped()
				t.halt(reason)
				snapshot.Halted = true
				snapshot.HaltReason = reason
				t.notify.Notify("🛑 全局熔断触发, 所有交易已停止: " + reason)
			}

			reporter.Print(snapshot)

			select {
			case t.saveChan <- snapshot:
			default:
				logger.S().Warn("快照保存队列已满, 丢弃本次快照")
			}
		}
	}
}

// runPersister 异步写入快照, 避免数据库IO阻塞聚合任务。
func (t *GridTrader) runPersister() {
	defer t.wg.Done()
	for snapshot := range t.saveChan {
		if err := t.repo.SaveSnapshot(snapshot); err != nil {
			logger.S().Errorf("写入余额快照失败: %v", err)
		}
	}
}

// buildSnapshot 汇总全部交易对的状态。余额查询失败时返回nil。
func (t *GridTrader) buildSnapshot(ctx context.Context) *models.BalanceSnapshot {
	balances, err := t.ex.GetBalances(ctx)
	if err != nil {
		logger.S().Warnf("聚合快照时获取余额失败: %v", err)
		return nil
	}

	t.mu.Lock()
	snapshot := &models.BalanceSnapshot{
		SchemaVersion:  models.SnapshotSchemaVersion,
		InitialBalance: t.initialBalance,
		Halted:         t.halted,
		HaltReason:     t.haltReason,
		Symbols:        make(map[string]models.SymbolStat, len(t.symbols)),
		LastUpdateTime: time.Now(),
	}
	t.mu.Unlock()

	snapshot.CurrentBalance = balances[t.cfg.QuoteAsset].Total
	snapshot.TotalValue = snapshot.CurrentBalance

	for symbol, s := range t.symbols {
		stats := s.ledger.Snapshot()
		price := s.getLastPrice()
		inventoryValue := stats.TrackedAmount * price
		snapshot.TotalValue += inventoryValue

		snapshot.RealizedPnl += stats.RealizedPnl
		snapshot.TradingPnl += stats.TradingPnl
		snapshot.FeesPaid += stats.FeesPaid
		snapshot.TotalTrades += stats.TotalTrades
		snapshot.CompletedCycles += stats.CompletedCycles
		snapshot.WinningTrades += stats.WinningTrades
		snapshot.LosingTrades += stats.LosingTrades

		snapshot.Symbols[symbol] = models.SymbolStat{
			LastPrice:       price,
			Inventory:       stats.TrackedAmount,
			InventoryValue:  inventoryValue,
			OpenLots:        stats.OpenLots,
			RealizedPnl:     stats.RealizedPnl,
			TradingPnl:      stats.TradingPnl,
			FeesPaid:        stats.FeesPaid,
			CompletedCycles: stats.CompletedCycles,
			WinningTrades:   stats.WinningTrades,
			LosingTrades:    stats.LosingTrades,
		}
	}
	return snapshot
}

// halt 置位全局停机标志, 单向, 只能通过重启复位。
func (t *GridTrader) halt(reason string) {
	t.mu.Lock()
	t.halted = true
	t.haltReason = reason
	t.mu.Unlock()
}

func (t *GridTrader) isHalted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
