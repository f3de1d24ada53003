package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"grid-trader-go/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	liveStreamURL    = "wss://stream.binance.com:9443"
	testnetStreamURL = "wss://stream.testnet.binance.vision"

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// priceStream 维护每个交易对的aggTrade行情连接, 把最新成交价写入缓存。
// 连接断开后自动重连; 行情只作为报价缓存, 从不用于判定成交。
type priceStream struct {
	baseURL string
	symbols []string

	mu     sync.RWMutex
	prices map[string]streamQuote

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type streamQuote struct {
	price float64
	at    time.Time
}

func newPriceStream(isTestnet bool, symbols []string) *priceStream {
	baseURL := liveStreamURL
	if isTestnet {
		baseURL = testnetStreamURL
	}
	return &priceStream{
		baseURL:  baseURL,
		symbols:  symbols,
		prices:   make(map[string]streamQuote),
		stopChan: make(chan struct{}),
	}
}

func (ps *priceStream) start() {
	for _, symbol := range ps.symbols {
		ps.wg.Add(1)
		go ps.streamLoop(symbol)
	}
}

func (ps *priceStream) stop() {
	ps.stopOnce.Do(func() { close(ps.stopChan) })
	ps.wg.Wait()
}

// lastPrice 返回缓存价格; 超过maxAge的报价视为过期。
func (ps *priceStream) lastPrice(symbol string, maxAge time.Duration) (float64, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	q, ok := ps.prices[symbol]
	if !ok || time.Since(q.at) > maxAge {
		return 0, false
	}
	return q.price, true
}

// streamLoop 是一个守护循环，负责维持单个交易对的连接和重连
func (ps *priceStream) streamLoop(symbol string) {
	defer ps.wg.Done()

	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", ps.baseURL, strings.ToLower(symbol))
	for {
		select {
		case <-ps.stopChan:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			logger.S().Warnf("%s 行情连接失败: %v。5秒后重试...", symbol, err)
			if !ps.sleep(5 * time.Second) {
				return
			}
			continue
		}

		if err := ps.readMessages(symbol, conn); err != nil {
			logger.S().Warnf("%s 行情连接断开: %v，准备重连...", symbol, err)
		}
		conn.Close()
		if !ps.sleep(5 * time.Second) {
			return
		}
	}
}

// readMessages 为一个已建立的连接处理消息，并实现心跳机制
func (ps *priceStream) readMessages(symbol string, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-ps.stopChan:
				return
			}
		}
	}()

	for {
		select {
		case <-ps.stopChan:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("读取消息失败: %v", err)
			}

			var event struct {
				Price json.Number `json:"p"`
			}
			if err := json.Unmarshal(message, &event); err != nil {
				logger.S().Debugf("解析 %s 行情消息失败: %v", symbol, err)
				continue
			}

			price, err := event.Price.Float64()
			if err != nil || price <= 0 {
				continue
			}

			ps.mu.Lock()
			ps.prices[symbol] = streamQuote{price: price, at: time.Now()}
			ps.mu.Unlock()
		}
	}
}

// sleep 等待给定时长, 收到停止信号时返回false。
func (ps *priceStream) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ps.stopChan:
		return false
	}
}
