package models

import "time"

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回相反的交易方向
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet    bool     `json:"is_testnet"`     // 是否使用测试网
	DBPath       string   `json:"db_path"`        // 余额快照数据库路径 (badger)
	TradeLogPath string   `json:"trade_log_path"` // 成交日志CSV路径 (仅追加)
	Symbols      []string `json:"symbols"`        // 交易对列表, 如 ["BTCUSDT", "ETHUSDT"]
	QuoteAsset   string   `json:"quote_asset"`    // 计价资产, 默认 "USDT"

	TotalBudget    float64 `json:"total_budget"`    // 每个交易对的网格总预算 (计价货币)
	GridLevels     int     `json:"grid_levels"`     // 网格档位数量
	GridWidthPct   float64 `json:"grid_width_pct"`  // 默认网格宽度比例, 0.03 表示 ±3%
	CenterBiasPct  float64 `json:"center_bias_pct"` // 默认中心偏移比例
	UseAdvisor     bool    `json:"use_advisor"`     // 是否启用网格顾问
	KlineInterval  string  `json:"kline_interval"`  // 顾问使用的K线周期, 如 "1h"
	KlineLimit     int     `json:"kline_limit"`     // 顾问使用的K线数量
	LevelTolerance float64 `json:"level_tolerance"` // 档位去重容差 (相对于间距的比例)
	PaperBalance   float64 `json:"paper_balance"`   // 纸面交易模式的初始余额

	TickIntervalSec     int `json:"tick_interval_sec"`     // 主循环间隔 (秒)
	SnapshotIntervalSec int `json:"snapshot_interval_sec"` // 快照聚合间隔 (秒)
	RetryAttempts       int `json:"retry_attempts"`        // 下单失败时的重试次数
	RetryDelayMs        int `json:"retry_delay_ms"`        // 重试前的固定延迟毫秒数
	MaxConsecutiveFails int `json:"max_consecutive_fails"` // 触发强制重连的连续失败次数
	MaxBackoffSec       int `json:"max_backoff_sec"`       // 指数退避的上限 (秒)
	RateLimitPerMin     int `json:"rate_limit_per_min"`    // 交易所请求频率上限 (次/分钟)
	MaxInflightRequests int `json:"max_inflight_requests"` // 同时在途的交易所请求数上限

	Risk      RiskConfig `json:"risk"`
	LogConfig LogConfig  `json:"log"`

	Telegram TelegramConfig `json:"telegram"`
}

// RiskConfig 定义了风控与再平衡相关的所有阈值
type RiskConfig struct {
	TrailingStopPct      float64 `json:"trailing_stop_pct"`       // 追踪止损触发比例 (相对参考价的回撤)
	OutOfRangeBufferPct  float64 `json:"out_of_range_buffer_pct"` // 价格出界判定的缓冲比例
	RebalanceCooldownSec int     `json:"rebalance_cooldown_sec"`  // 再平衡冷却时间 (秒)
	MaxRebalanceGapSec   int     `json:"max_rebalance_gap_sec"`   // 超过该时长则无视冷却强制再平衡 (秒)
	GapFractionPct       float64 `json:"gap_fraction_pct"`        // 买卖档位间隙占现价的比例阈值
	GapGraceSec          int     `json:"gap_grace_sec"`           // 间隙再平衡的宽限时间 (秒)
	WideGapFactor        float64 `json:"wide_gap_factor"`         // 超宽间隙倍数, 达到后跳过宽限
	MaxOpenLots          int     `json:"max_open_lots"`           // 未平仓批次数量上限
	ShedCooldownSec      int     `json:"shed_cooldown_sec"`       // 减仓操作的冷却时间 (秒)
	MaxTotalLossPct      float64 `json:"max_total_loss_pct"`      // 组合最大亏损比例, 触发全局熔断
	DustThreshold        float64 `json:"dust_threshold"`          // 对账时忽略的粉尘数量
}

// TelegramConfig 定义了通知相关的配置, 凭据从环境变量读取
type TelegramConfig struct {
	Enabled bool `json:"enabled"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// GridLevel 代表网格中的一个价格档位。
// 一旦 Filled 置位, 该档位不再复用; 未成交档位最多持有一个在途订单引用。
type GridLevel struct {
	Price    float64   `json:"price"`
	Side     Side      `json:"side"`
	Amount   float64   `json:"amount"`
	OrderRef string    `json:"order_ref,omitempty"`
	Filled   bool      `json:"filled"`
	FilledAt time.Time `json:"filled_at,omitempty"`
}

// GridConfig 定义了一次网格初始化的静态参数, 每次(重)初始化整体重建
type GridConfig struct {
	Symbol      string  `json:"symbol"`
	UpperPrice  float64 `json:"upper_price"`
	LowerPrice  float64 `json:"lower_price"`
	NumLevels   int     `json:"num_levels"`
	TotalBudget float64 `json:"total_budget"`
}

// Spacing 返回相邻档位之间的价差
func (c GridConfig) Spacing() float64 {
	if c.NumLevels <= 0 {
		return 0
	}
	return (c.UpperPrice - c.LowerPrice) / float64(c.NumLevels)
}

// AmountPerLevel 返回单个档位占用的计价货币预算
func (c GridConfig) AmountPerLevel() float64 {
	if c.NumLevels <= 0 {
		return 0
	}
	return c.TotalBudget / float64(c.NumLevels)
}

// InventoryLot 代表一个由买入成交建立的未平仓批次。
// 批次只由持仓账本创建和销毁, 按先进先出顺序被后续卖出成交消耗。
type InventoryLot struct {
	EntryPrice float64   `json:"entry_price"`
	Amount     float64   `json:"amount"`
	SourceRef  string    `json:"source_ref"`
	OpenedAt   time.Time `json:"opened_at"`
}

// TradeFill 是交易所成交记录的标准化表示
type TradeFill struct {
	TradeRef string    `json:"trade_ref"` // 幂等键
	OrderRef string    `json:"order_ref"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Amount   float64   `json:"amount"`
	Fee      float64   `json:"fee"`
	Time     time.Time `json:"time"`
}

// MarketInfo 描述了交易所对某个交易对的交易规则。
// 精度以步长字符串表达 (如 "0.001"), 与币安过滤器格式一致。
type MarketInfo struct {
	Symbol      string  `json:"symbol"`
	BaseAsset   string  `json:"base_asset"`
	QuoteAsset  string  `json:"quote_asset"`
	MinNotional float64 `json:"min_notional"`
	PriceTick   string  `json:"price_tick"`
	AmountStep  string  `json:"amount_step"`
}

// Balance 定义了账户中特定资产的余额信息
type Balance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// Candle 是一根OHLCV K线
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// GridAdvice 是顾问模块对网格参数的建议
type GridAdvice struct {
	WidthPct          float64 `json:"width_pct"`
	CenterBias        float64 `json:"center_bias"`
	Confidence        float64 `json:"confidence"`
	RecommendedLevels int     `json:"recommended_levels"`
	Reason            string  `json:"reason"`
}

// TradeLogRecord 是成交日志中的一行, 写入后不可变。
// 列的顺序与含义跨版本保持不变, 新字段只能追加在末尾。
type TradeLogRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Price       float64   `json:"price"`
	Amount      float64   `json:"amount"`
	Value       float64   `json:"value"`
	TradeRef    string    `json:"trade_ref"` // 幂等键, 启动时据此重建去重集合
	Fee         float64   `json:"fee"`
	TradingPnl  float64   `json:"trading_pnl"`
	RealizedPnl float64   `json:"realized_pnl"` // 累计已实现盈亏
	Balance     float64   `json:"balance"`
	TotalValue  float64   `json:"total_value"`
	Inventory   float64   `json:"inventory"` // 成交后持有的基础资产数量
}

// SnapshotSchemaVersion 是余额快照的当前格式版本号
const SnapshotSchemaVersion = 2

// SymbolStat 是快照中单个交易对的统计
type SymbolStat struct {
	LastPrice       float64 `json:"last_price"`
	Inventory       float64 `json:"inventory"`
	InventoryValue  float64 `json:"inventory_value"`
	OpenLots        int     `json:"open_lots"`
	RealizedPnl     float64 `json:"realized_pnl"`
	TradingPnl      float64 `json:"trading_pnl"`
	FeesPaid        float64 `json:"fees_paid"`
	CompletedCycles int     `json:"completed_cycles"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
}

// BalanceSnapshot 是定期整体覆写的余额快照。
// InitialBalance 一经写入不再改写 (首写生效), 仅允许从零引导。
type BalanceSnapshot struct {
	SchemaVersion   int                   `json:"schema_version"`
	InitialBalance  float64               `json:"initial_balance"`
	CurrentBalance  float64               `json:"current_balance"`
	TotalValue      float64               `json:"total_value"`
	RealizedPnl     float64               `json:"realized_pnl"`
	TradingPnl      float64               `json:"trading_pnl"`
	FeesPaid        float64               `json:"fees_paid"`
	TotalTrades     int                   `json:"total_trades"`
	CompletedCycles int                   `json:"completed_cycles"`
	WinningTrades   int                   `json:"winning_trades"`
	LosingTrades    int                   `json:"losing_trades"`
	Symbols         map[string]SymbolStat `json:"symbols"`
	Halted          bool                  `json:"halted"`
	HaltReason      string                `json:"halt_reason,omitempty"`
	LastUpdateTime  time.Time             `json:"last_update_time"`
}
