package config

import (
	"encoding/json"
	"fmt"
	"os"

	"grid-trader-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 配置非法属于致命启动错误, 由调用方决定终止。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	applyDefaults(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.TradeLogPath == "" {
		cfg.TradeLogPath = "data/grid_trades.csv"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/snapshot_db"
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1h"
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = 168
	}
	if cfg.LevelTolerance <= 0 {
		cfg.LevelTolerance = 0.01 // 间距的1%
	}
	if cfg.TickIntervalSec <= 0 {
		cfg.TickIntervalSec = 30
	}
	if cfg.SnapshotIntervalSec <= 0 {
		cfg.SnapshotIntervalSec = 300
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelayMs <= 0 {
		cfg.RetryDelayMs = 1000
	}
	if cfg.MaxConsecutiveFails <= 0 {
		cfg.MaxConsecutiveFails = 5
	}
	if cfg.MaxBackoffSec <= 0 {
		cfg.MaxBackoffSec = 300
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 1200
	}
	if cfg.MaxInflightRequests <= 0 {
		cfg.MaxInflightRequests = 4
	}
	if cfg.Risk.DustThreshold <= 0 {
		cfg.Risk.DustThreshold = 1e-8
	}
	if cfg.Risk.WideGapFactor <= 0 {
		cfg.Risk.WideGapFactor = 2.0
	}
}

func validate(cfg *models.Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("配置错误: symbols 不能为空")
	}
	seen := make(map[string]bool)
	for _, s := range cfg.Symbols {
		if s == "" {
			return fmt.Errorf("配置错误: 存在空的交易对")
		}
		if seen[s] {
			return fmt.Errorf("配置错误: 交易对 %s 重复", s)
		}
		seen[s] = true
	}
	if cfg.TotalBudget <= 0 {
		return fmt.Errorf("配置错误: total_budget 必须为正数, 当前为 %v", cfg.TotalBudget)
	}
	if cfg.GridLevels <= 0 {
		return fmt.Errorf("配置错误: grid_levels 必须为正数, 当前为 %v", cfg.GridLevels)
	}
	if cfg.GridWidthPct <= 0 || cfg.GridWidthPct >= 1 {
		return fmt.Errorf("配置错误: grid_width_pct 必须在 (0,1) 区间内, 当前为 %v", cfg.GridWidthPct)
	}
	if cfg.Risk.TrailingStopPct < 0 || cfg.Risk.TrailingStopPct >= 1 {
		return fmt.Errorf("配置错误: trailing_stop_pct 必须在 [0,1) 区间内, 当前为 %v", cfg.Risk.TrailingStopPct)
	}
	if cfg.Risk.MaxTotalLossPct < 0 || cfg.Risk.MaxTotalLossPct >= 1 {
		return fmt.Errorf("配置错误: max_total_loss_pct 必须在 [0,1) 区间内, 当前为 %v", cfg.Risk.MaxTotalLossPct)
	}
	return nil
}
