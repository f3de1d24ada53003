package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/jxskiss/base62"
	"golang.org/x/time/rate"
)

// BinanceExchange 实现了 Exchange 接口，用于与真实的币安现货交易所进行交互。
// 所有请求共享一个限速器: 请求之间保持最小间隔, 同时限制在途请求数量。
// Reset 会整体替换会话, 因此 client 和 stream 指针只通过 session 读取。
type BinanceExchange struct {
	apiKey    string
	secretKey string
	isTestnet bool

	mu       sync.Mutex // 保护 client/stream 指针和订单ID序号
	client   *binance.Client
	stream   *priceStream
	refNonce int64

	limiter  *rate.Limiter
	inflight chan struct{}

	marketMu sync.Mutex
	markets  map[string]*models.MarketInfo // 交易规则缓存
}

// NewBinanceExchange 创建一个新的 BinanceExchange 实例并启动价格流。
func NewBinanceExchange(apiKey, secretKey string, isTestnet bool, symbols []string, ratePerMin, maxInflight int) (*BinanceExchange, error) {
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("缺少API凭据")
	}
	binance.UseTestnet = isTestnet

	e := &BinanceExchange{
		apiKey:    apiKey,
		secretKey: secretKey,
		isTestnet: isTestnet,
		client:    binance.NewClient(apiKey, secretKey),
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), 10),
		inflight:  make(chan struct{}, maxInflight),
		markets:   make(map[string]*models.MarketInfo),
	}

	e.stream = newPriceStream(isTestnet, symbols)
	e.stream.start()

	return e, nil
}

// session 返回当前的HTTP客户端和价格流, 与Reset的会话替换互斥。
func (e *BinanceExchange) session() (*binance.Client, *priceStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client, e.stream
}

// acquire 在限速器和在途配额上等待, 返回释放函数。
func (e *BinanceExchange) acquire(ctx context.Context) (func(), error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case e.inflight <- struct{}{}:
		return func() { <-e.inflight }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetTicker 返回最新成交价。价格流上的新鲜报价优先, 过期则回退到REST。
func (e *BinanceExchange) GetTicker(ctx context.Context, symbol string) (float64, error) {
	client, stream := e.session()
	if price, ok := stream.lastPrice(symbol, 10*time.Second); ok {
		return price, nil
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	prices, err := client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取 %s 价格失败: %v", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("交易所未返回 %s 的价格", symbol)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

// GetBalances 返回账户所有资产余额。
func (e *BinanceExchange) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	client, _ := e.session()
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	account, err := client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %v", err)
	}

	balances := make(map[string]models.Balance, len(account.Balances))
	for _, b := range account.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		balances[b.Asset] = models.Balance{Free: free, Used: locked, Total: free + locked}
	}
	return balances, nil
}

// GetOpenOrders 返回交易对所有在途订单的引用。
func (e *BinanceExchange) GetOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	client, _ := e.session()
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	orders, err := client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 挂单列表失败: %v", symbol, err)
	}

	refs := make([]string, 0, len(orders))
	for _, o := range orders {
		refs = append(refs, strconv.FormatInt(o.OrderID, 10))
	}
	return refs, nil
}

// CreateOrder 下单并返回交易所订单ID作为引用。
func (e *BinanceExchange) CreateOrder(ctx context.Context, symbol, orderType string, side models.Side, amount, price float64) (string, error) {
	client, _ := e.session()
	release, err := e.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	svc := client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderType(orderType)).
		Quantity(strconv.FormatFloat(amount, 'f', -1, 64)).
		NewClientOrderID(e.nextClientOrderID())

	if orderType == OrderTypeLimit {
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(price, 'f', -1, 64))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return "", fmt.Errorf("下 %s %s 单失败: %v", side, orderType, err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelOrder 取消订单。订单已不存在时交易所会报错, 由调用方决定是否忽略。
func (e *BinanceExchange) CancelOrder(ctx context.Context, orderRef, symbol string) error {
	orderID, err := strconv.ParseInt(orderRef, 10, 64)
	if err != nil {
		return fmt.Errorf("非法的订单引用 %q: %v", orderRef, err)
	}

	client, _ := e.session()
	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return err
}

// GetMyTrades 返回since之后的成交记录。
func (e *BinanceExchange) GetMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]models.TradeFill, error) {
	client, _ := e.session()
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	svc := client.NewListTradesService().Symbol(symbol).Limit(limit)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 成交记录失败: %v", symbol, err)
	}

	fills := make([]models.TradeFill, 0, len(trades))
	for _, t := range trades {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		fee, _ := strconv.ParseFloat(t.Commission, 64)
		side := models.Sell
		if t.IsBuyer {
			side = models.Buy
		}
		fills = append(fills, models.TradeFill{
			TradeRef: strconv.FormatInt(t.ID, 10),
			OrderRef: strconv.FormatInt(t.OrderID, 10),
			Symbol:   symbol,
			Side:     side,
			Price:    price,
			Amount:   qty,
			Fee:      fee,
			Time:     time.UnixMilli(t.Time),
		})
	}
	return fills, nil
}

// GetMarketInfo 返回交易对的交易规则, 结果缓存。
func (e *BinanceExchange) GetMarketInfo(ctx context.Context, symbol string) (*models.MarketInfo, error) {
	e.marketMu.Lock()
	if info, ok := e.markets[symbol]; ok {
		e.marketMu.Unlock()
		return info, nil
	}
	e.marketMu.Unlock()

	client, _ := e.session()
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 交易规则失败: %v", symbol, err)
	}

	for _, s := range res.Symbols {
		if s.Symbol != symbol {
			continue
		}
		info := &models.MarketInfo{
			Symbol:     symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				if v, ok := f["tickSize"].(string); ok {
					info.PriceTick = v
				}
			case "LOT_SIZE":
				if v, ok := f["stepSize"].(string); ok {
					info.AmountStep = v
				}
			case "MIN_NOTIONAL", "NOTIONAL":
				if v, ok := f["minNotional"].(string); ok {
					info.MinNotional, _ = strconv.ParseFloat(v, 64)
				}
			}
		}
		e.marketMu.Lock()
		e.markets[symbol] = info
		e.marketMu.Unlock()
		return info, nil
	}

	return nil, fmt.Errorf("未找到交易对 %s 的信息", symbol)
}

// GetOHLCV 返回最近limit根K线。
func (e *BinanceExchange) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	client, _ := e.session()
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	klines, err := client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s K线失败: %v", symbol, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}
	return candles, nil
}

// Reset 重建HTTP客户端并重启价格流, 用于连续失败后的强制重连。
// 多个交易对循环可能并发触发, 会话替换整体在锁内完成。
// binance.UseTestnet 在构造时已设置, 这里不再改写全局变量。
func (e *BinanceExchange) Reset(_ context.Context) error {
	logger.S().Warn("正在重建交易所会话...")

	e.mu.Lock()
	oldStream := e.stream
	e.client = binance.NewClient(e.apiKey, e.secretKey)
	e.stream = newPriceStream(e.isTestnet, oldStream.symbols)
	e.stream.start()
	e.mu.Unlock()

	oldStream.stop()

	logger.S().Info("交易所会话重建完成。")
	return nil
}

// Close 停止价格流。HTTP客户端无需显式关闭。
func (e *BinanceExchange) Close() error {
	_, stream := e.session()
	stream.stop()
	return nil
}

// nextClientOrderID 生成紧凑的客户端订单ID, 便于在交易所侧追踪本机订单。
func (e *BinanceExchange) nextClientOrderID() string {
	e.mu.Lock()
	nonce := time.Now().UnixNano()
	if nonce <= e.refNonce {
		nonce = e.refNonce + 1
	}
	e.refNonce = nonce
	e.mu.Unlock()
	return "gt" + strings.ToLower(string(base62.FormatInt(nonce)))
}
