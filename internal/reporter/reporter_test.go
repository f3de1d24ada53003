package reporter

import (
	"testing"

	"grid-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRender_ContainsSymbolsAndTotals(t *testing.T) {
	s := &models.BalanceSnapshot{
		RealizedPnl: 12.3456,
		TradingPnl:  10.0,
		Symbols: map[string]models.SymbolStat{
			"BTCUSDT": {LastPrice: 50000, Inventory: 0.002, OpenLots: 2, RealizedPnl: 8, WinningTrades: 3, LosingTrades: 1},
			"ETHUSDT": {LastPrice: 3000, Inventory: 0.5, OpenLots: 1, RealizedPnl: 4.3456},
		},
	}

	out := Render(s)
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "ETHUSDT")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "12.3456")
	assert.Contains(t, out, "3/1")
}

func TestRender_EmptySnapshot(t *testing.T) {
	out := Render(&models.BalanceSnapshot{})
	assert.Contains(t, out, "TOTAL")
}
