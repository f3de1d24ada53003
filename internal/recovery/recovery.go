package recovery

import (
	"fmt"
	"math"
	"time"

	"grid-trader-go/internal/ledger"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/notifier"
)

// Rebuild 按时间顺序把成交日志回放进账本, 重建去重集合和批次队列。
// 回放使用与实盘完全相同的先进先出匹配规则。返回应用的记录数。
func Rebuild(l *ledger.Ledger, records []models.TradeLogRecord) int {
	applied := 0
	for _, r := range records {
		if r.Symbol != l.Symbol() {
			continue
		}
		res := l.ApplyFill(models.TradeFill{
			TradeRef: r.TradeRef,
			Symbol:   r.Symbol,
			Side:     r.Side,
			Price:    r.Price,
			Amount:   r.Amount,
			Fee:      r.Fee,
			Time:     r.Timestamp,
		})
		if res.Applied {
			applied++
		}
	}
	if applied > 0 {
		stats := l.Snapshot()
		logger.S().Infof("%s 成交日志回放完成: %d 笔成交, %d 个未平仓批次, 累计净盈亏 %.8f",
			l.Symbol(), applied, stats.OpenLots, stats.TradingPnl)
	}
	return applied
}

// ReconcileBalance 把账本跟踪的持仓和交易所报告的余额对齐。
// 交易所多出超过粉尘阈值的部分按现价建立新批次 (视为按市价获得);
// 账本多出的部分从队尾开始丢弃 (视为最近的批次已不存在)。
// 两个方向的修正都会记录日志并发送通知, 绝不静默。
// 返回修正量: 正数为吸收的盈余, 负数为丢弃的持仓。
func ReconcileBalance(l *ledger.Ledger, venueTotal, currentPrice, dust float64, n notifier.Notifier, at time.Time) float64 {
	tracked := l.TrackedAmount()
	diff := venueTotal - tracked
	if math.Abs(diff) <= dust {
		return 0
	}

	if diff > 0 {
		// 交易所余额多于账本: 按现价吸收为新批次
		l.PushLot(models.InventoryLot{
			EntryPrice: currentPrice,
			Amount:     diff,
			SourceRef:  "recovery",
			OpenedAt:   at,
		})
		msg := fmt.Sprintf("%s 对账: 交易所余额比账本多 %.8f, 已按现价 %.8f 吸收为新批次",
			l.Symbol(), diff, currentPrice)
		logger.S().Warn(msg)
		n.Notify(msg)
		return diff
	}

	// 账本持仓多于交易所: 从队尾开始丢弃
	excess := -diff
	discarded := 0.0
	for excess > dust {
		lot, ok := l.PopTail()
		if !ok {
			break
		}
		if lot.Amount > excess+dust {
			lot.Amount -= excess
			l.PushLot(lot)
			discarded += excess
			excess = 0
			break
		}
		discarded += lot.Amount
		excess -= lot.Amount
	}

	msg := fmt.Sprintf("%s 对账: 账本持仓比交易所多, 已从队尾丢弃 %.8f", l.Symbol(), discarded)
	logger.S().Warn(msg)
	n.Notify(msg)
	return -discarded
}
