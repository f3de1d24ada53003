package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"grid-trader-go/internal/advisor"
	"grid-trader-go/internal/bot"
	"grid-trader-go/internal/config"
	"grid-trader-go/internal/exchange"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/notifier"
	"grid-trader-go/internal/persistence"
	"grid-trader-go/internal/tradelog"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or paper")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 在加载.env和配置之前先用默认配置初始化一个临时logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	// --- 根据模式选择交易所实现 ---
	var ex exchange.Exchange
	switch *mode {
	case "live":
		logger.S().Info("--- 启动实盘交易模式 ---")
		apiKey := os.Getenv("BINANCE_API_KEY")
		secretKey := os.Getenv("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			logger.S().Fatal("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
		}
		if cfg.IsTestnet {
			logger.S().Info("正在使用币安测试网...")
		}
		ex, err = exchange.NewBinanceExchange(apiKey, secretKey, cfg.IsTestnet,
			cfg.Symbols, cfg.RateLimitPerMin, cfg.MaxInflightRequests)
		if err != nil {
			logger.S().Fatalf("初始化交易所失败: %v", err)
		}

	case "paper":
		logger.S().Info("--- 启动纸面交易模式 ---")
		paperBalance := cfg.PaperBalance
		if paperBalance <= 0 {
			paperBalance = cfg.TotalBudget * float64(len(cfg.Symbols))
		}
		paper := exchange.NewPaperExchange(cfg.QuoteAsset, paperBalance, 0.001)
		paper.EnableLiveData(cfg.IsTestnet)
		ex = paper

	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'paper'。", *mode)
	}
	defer ex.Close()

	// --- 初始化持久化 ---
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("打开快照数据库失败: %v", err)
	}
	defer repo.Close()

	trades, err := tradelog.NewWriter(cfg.TradeLogPath)
	if err != nil {
		logger.S().Fatalf("打开成交日志失败: %v", err)
	}
	defer trades.Close()

	// --- 初始化通知 ---
	var notify notifier.Notifier = notifier.Noop{}
	if cfg.Telegram.Enabled {
		tg, err := notifier.NewTelegram(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"))
		if err != nil {
			logger.S().Warnf("Telegram通知不可用: %v", err)
		} else {
			notify = tg
		}
	}

	// --- 初始化顾问 ---
	var adv advisor.Advisor = advisor.Fixed{
		WidthPct:   cfg.GridWidthPct,
		CenterBias: cfg.CenterBiasPct,
		Levels:     cfg.GridLevels,
	}
	if cfg.UseAdvisor {
		adv = advisor.NewVolatility(cfg.GridWidthPct, cfg.GridLevels)
	}

	// --- 启动机器人 ---
	trader := bot.New(cfg, ex, repo, trades, notify, adv, *mode == "paper")
	if err := trader.Start(context.Background()); err != nil {
		logger.S().Fatalf("机器人启动失败: %v", err)
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	trader.Stop()
	logger.S().Info("机器人已成功停止。")
}
