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
)

// PaperExchange 实现了 Exchange 接口, 在内存中模拟账户和订单簿。
// 行情可以用脚本价格驱动 (测试), 也可以挂接真实的公开行情 (纸面实盘)。
// 限价单只在调用方显式判定穿越后由 FillOrder 成交, 模拟器本身不做撮合。
type PaperExchange struct {
	mu sync.Mutex

	quoteAsset string
	feeRate    float64

	balances map[string]models.Balance
	orders   map[string]*paperOrder
	trades   []models.TradeFill
	prices   map[string]float64
	markets  map[string]*models.MarketInfo

	nextID int64

	// 公开行情客户端, 为nil时只使用脚本价格
	public *binance.Client
}

type paperOrder struct {
	ref    string
	symbol string
	side   models.Side
	price  float64
	amount float64
}

// NewPaperExchange 创建一个纸面交易所, 初始只持有计价资产。
func NewPaperExchange(quoteAsset string, initialBalance, feeRate float64) *PaperExchange {
	return &PaperExchange{
		quoteAsset: quoteAsset,
		feeRate:    feeRate,
		balances: map[string]models.Balance{
			quoteAsset: {Free: initialBalance, Total: initialBalance},
		},
		orders:  make(map[string]*paperOrder),
		prices:  make(map[string]float64),
		markets: make(map[string]*models.MarketInfo),
		nextID:  1,
	}
}

// EnableLiveData 挂接币安公开行情, 此后价格和K线来自真实市场。
// 公开接口不需要API凭据。
func (p *PaperExchange) EnableLiveData(isTestnet bool) {
	binance.UseTestnet = isTestnet
	p.public = binance.NewClient("", "")
}

// SetPrice 写入脚本价格, 用于测试和回放。
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetMarketInfo 覆盖交易规则, 默认规则对精度几乎不作限制。
func (p *PaperExchange) SetMarketInfo(info *models.MarketInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[info.Symbol] = info
}

func (p *PaperExchange) baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, p.quoteAsset)
}

// GetTicker 优先返回脚本价格, 否则查询公开行情并缓存。
func (p *PaperExchange) GetTicker(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	if price, ok := p.prices[symbol]; ok && p.public == nil {
		p.mu.Unlock()
		return price, nil
	}
	p.mu.Unlock()

	if p.public == nil {
		return 0, fmt.Errorf("纸面交易所没有 %s 的脚本价格", symbol)
	}

	prices, err := p.public.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取 %s 价格失败: %v", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("行情未返回 %s 的价格", symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
	return price, nil
}

// GetBalances 返回模拟账户的余额。
func (p *PaperExchange) GetBalances(_ context.Context) (map[string]models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]models.Balance, len(p.balances))
	for asset, b := range p.balances {
		out[asset] = b
	}
	return out, nil
}

// GetOpenOrders 返回交易对所有在途订单的引用。
func (p *PaperExchange) GetOpenOrders(_ context.Context, symbol string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	refs := make([]string, 0, len(p.orders))
	for _, o := range p.orders {
		if o.symbol == symbol {
			refs = append(refs, o.ref)
		}
	}
	return refs, nil
}

// CreateOrder 在模拟账户上冻结资金并登记限价单。市价单按当前脚本价格立即成交。
func (p *PaperExchange) CreateOrder(_ context.Context, symbol, orderType string, side models.Side, amount, price float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if orderType == OrderTypeMarket {
		price = p.prices[symbol]
		if price <= 0 {
			return "", fmt.Errorf("纸面交易所没有 %s 的价格, 无法执行市价单", symbol)
		}
	}
	if amount <= 0 || price <= 0 {
		return "", fmt.Errorf("非法的订单参数: amount=%v price=%v", amount, price)
	}

	// 冻结保证金: 买单冻结计价资产, 卖单冻结基础资产
	if side == models.Buy {
		quote := p.balances[p.quoteAsset]
		cost := amount * price
		if quote.Free < cost {
			return "", fmt.Errorf("%s 余额不足: 需要 %.8f, 可用 %.8f", p.quoteAsset, cost, quote.Free)
		}
		quote.Free -= cost
		quote.Used += cost
		p.balances[p.quoteAsset] = quote
	} else {
		base := p.balances[p.baseAsset(symbol)]
		if base.Free < amount {
			return "", fmt.Errorf("%s 余额不足: 需要 %.8f, 可用 %.8f", p.baseAsset(symbol), amount, base.Free)
		}
		base.Free -= amount
		base.Used += amount
		p.balances[p.baseAsset(symbol)] = base
	}

	ref := strconv.FormatInt(p.nextID, 10)
	p.nextID++
	order := &paperOrder{ref: ref, symbol: symbol, side: side, price: price, amount: amount}
	p.orders[ref] = order

	if orderType == OrderTypeMarket {
		p.fillLocked(order, time.Now())
	}
	return ref, nil
}

// CancelOrder 取消订单并解冻资金。
func (p *PaperExchange) CancelOrder(_ context.Context, orderRef, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderRef]
	if !ok || order.symbol != symbol {
		return fmt.Errorf("订单 %s 不存在", orderRef)
	}

	if order.side == models.Buy {
		quote := p.balances[p.quoteAsset]
		cost := order.amount * order.price
		quote.Free += cost
		quote.Used -= cost
		p.balances[p.quoteAsset] = quote
	} else {
		base := p.balances[p.baseAsset(symbol)]
		base.Free += order.amount
		base.Used -= order.amount
		p.balances[p.baseAsset(symbol)] = base
	}

	delete(p.orders, orderRef)
	return nil
}

// FillOrder 把一个在途限价单按其挂单价全额成交。
// 由调用方在判定价格穿越后调用, 这是纸面模式下成交的唯一来源。
func (p *PaperExchange) FillOrder(orderRef string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderRef]
	if !ok {
		return fmt.Errorf("订单 %s 不存在或已成交", orderRef)
	}
	p.fillLocked(order, at)
	return nil
}

// fillLocked 执行成交的资金划转并登记成交记录, 调用方必须持有锁。
func (p *PaperExchange) fillLocked(order *paperOrder, at time.Time) {
	base := p.baseAsset(order.symbol)
	value := order.amount * order.price
	fee := value * p.feeRate

	if order.side == models.Buy {
		quote := p.balances[p.quoteAsset]
		quote.Used -= value
		quote.Total -= value + fee
		quote.Free -= fee
		p.balances[p.quoteAsset] = quote

		bb := p.balances[base]
		bb.Free += order.amount
		bb.Total += order.amount
		p.balances[base] = bb
	} else {
		bb := p.balances[base]
		bb.Used -= order.amount
		bb.Total -= order.amount
		p.balances[base] = bb

		quote := p.balances[p.quoteAsset]
		quote.Free += value - fee
		quote.Total += value - fee
		p.balances[p.quoteAsset] = quote
	}

	p.trades = append(p.trades, models.TradeFill{
		TradeRef: "paper-" + order.ref,
		OrderRef: order.ref,
		Symbol:   order.symbol,
		Side:     order.side,
		Price:    order.price,
		Amount:   order.amount,
		Fee:      fee,
		Time:     at,
	})
	delete(p.orders, order.ref)

	logger.S().Debugf("[纸面] %s %s 成交: %.8f @ %.8f", order.symbol, order.side, order.amount, order.price)
}

// GetMyTrades 返回since之后的成交记录, 按时间升序。
func (p *PaperExchange) GetMyTrades(_ context.Context, symbol string, since time.Time, limit int) ([]models.TradeFill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fills := make([]models.TradeFill, 0)
	for _, t := range p.trades {
		if t.Symbol != symbol || t.Time.Before(since) {
			continue
		}
		fills = append(fills, t)
		if limit > 0 && len(fills) >= limit {
			break
		}
	}
	return fills, nil
}

// GetMarketInfo 返回交易规则。未显式设置时采用宽松的默认规则。
func (p *PaperExchange) GetMarketInfo(_ context.Context, symbol string) (*models.MarketInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if info, ok := p.markets[symbol]; ok {
		return info, nil
	}
	info := &models.MarketInfo{
		Symbol:     symbol,
		BaseAsset:  p.baseAsset(symbol),
		QuoteAsset: p.quoteAsset,
		PriceTick:  "0.00000001",
		AmountStep: "0.00000001",
	}
	p.markets[symbol] = info
	return info, nil
}

// GetOHLCV 在挂接公开行情时返回真实K线, 否则返回错误。
func (p *PaperExchange) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if p.public == nil {
		return nil, fmt.Errorf("纸面交易所未挂接行情数据, 无法获取K线")
	}

	klines, err := p.public.NewKlinesService().
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

// Reset 对纸面交易所是空操作。
func (p *PaperExchange) Reset(_ context.Context) error {
	return nil
}

// Close 对纸面交易所是空操作。
func (p *PaperExchange) Close() error {
	return nil
}
