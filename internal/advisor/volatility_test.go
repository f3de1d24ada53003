package advisor

import (
	"context"
	"math"
	"testing"
	"time"

	"grid-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCandles(n int, price func(i int) float64) []models.Candle {
	candles := make([]models.Candle, n)
	start := time.Now().Add(-time.Duration(n) * time.Hour)
	for i := 0; i < n; i++ {
		p := price(i)
		candles[i] = models.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     p * 0.999,
			High:     p * 1.005,
			Low:      p * 0.995,
			Close:    p,
			Volume:   100,
		}
	}
	return candles
}

func TestFixed_ReturnsDefaults(t *testing.T) {
	f := Fixed{WidthPct: 0.03, CenterBias: 0.001, Levels: 8}
	advice, err := f.Advise(context.Background(), "BTCUSDT", nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, advice.WidthPct, 1e-12)
	assert.InDelta(t, 0.001, advice.CenterBias, 1e-12)
	assert.Equal(t, 8, advice.RecommendedLevels)
}

func TestVolatility_RejectsShortHistory(t *testing.T) {
	v := NewVolatility(0.03, 10)
	_, err := v.Advise(context.Background(), "BTCUSDT", makeCandles(10, func(int) float64 { return 100 }))
	assert.Error(t, err)
}

func TestVolatility_WidthWithinBounds(t *testing.T) {
	v := NewVolatility(0.03, 10)

	// 平稳行情和剧烈行情的宽度都必须落在硬性边界内
	flat := makeCandles(168, func(i int) float64 { return 100 + 0.01*math.Sin(float64(i)) })
	wild := makeCandles(168, func(i int) float64 { return 100 * (1 + 0.2*math.Sin(float64(i)/3)) })

	for _, candles := range [][]models.Candle{flat, wild} {
		advice, err := v.Advise(context.Background(), "BTCUSDT", candles)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, advice.WidthPct, 0.025)
		assert.LessOrEqual(t, advice.WidthPct, 0.10)
		assert.GreaterOrEqual(t, advice.RecommendedLevels, 3)
	}
}

func TestVolatility_UptrendBiasesUp(t *testing.T) {
	v := NewVolatility(0.03, 10)

	rising := makeCandles(168, func(i int) float64 { return 100 + float64(i) })
	advice, err := v.Advise(context.Background(), "BTCUSDT", rising)
	require.NoError(t, err)
	assert.Greater(t, advice.CenterBias, 0.0)
}

func TestVolatility_DowntrendBiasesDown(t *testing.T) {
	v := NewVolatility(0.03, 10)

	falling := makeCandles(168, func(i int) float64 { return 300 - float64(i) })
	advice, err := v.Advise(context.Background(), "BTCUSDT", falling)
	require.NoError(t, err)
	assert.Less(t, advice.CenterBias, 0.0)
}

func TestVolatility_Deterministic(t *testing.T) {
	v := NewVolatility(0.03, 10)
	candles := makeCandles(168, func(i int) float64 { return 100 + 5*math.Sin(float64(i)/5) })

	a, err := v.Advise(context.Background(), "BTCUSDT", candles)
	require.NoError(t, err)
	b, err := v.Advise(context.Background(), "BTCUSDT", candles)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
