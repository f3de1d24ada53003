package exchange

import (
	"context"
	"time"

	"grid-trader-go/internal/models"
)

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得交易引擎可以在真实交易和纸面交易之间轻松切换。
type Exchange interface {
	// GetTicker 返回交易对的最新成交价
	GetTicker(ctx context.Context, symbol string) (float64, error)
	// GetBalances 返回账户中所有资产的余额
	GetBalances(ctx context.Context) (map[string]models.Balance, error)
	// GetOpenOrders 返回交易对当前所有在途订单的引用
	GetOpenOrders(ctx context.Context, symbol string) ([]string, error)
	// CreateOrder 下单并返回订单引用; 市价单的price传0
	CreateOrder(ctx context.Context, symbol, orderType string, side models.Side, amount, price float64) (string, error)
	// CancelOrder 取消订单
	CancelOrder(ctx context.Context, orderRef, symbol string) error
	// GetMyTrades 返回since之后的成交记录, 按时间升序
	GetMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]models.TradeFill, error)
	// GetMarketInfo 返回交易对的交易规则
	GetMarketInfo(ctx context.Context, symbol string) (*models.MarketInfo, error)
	// GetOHLCV 返回最近limit根K线
	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	// Reset 强制重建交易所会话, 用于连续失败后的重连
	Reset(ctx context.Context) error
	// Close 关闭所有后台任务和连接
	Close() error
}

// 订单类型常量, 与币安API取值一致
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)
