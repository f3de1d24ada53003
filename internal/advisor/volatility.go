package advisor

import (
	"context"
	"fmt"
	"math"

	"grid-trader-go/internal/models"
)

// 网格宽度的硬性边界
const (
	minWidthPct = 0.025
	maxWidthPct = 0.10
	minLevels   = 3
)

// Volatility 用波动率和简单趋势特征推导网格参数:
// 波动率决定宽度和档位数量, 趋势决定中心偏移方向。
type Volatility struct {
	defaultWidth  float64
	defaultLevels int
}

// NewVolatility 创建波动率顾问, 默认参数在特征退化时起稳定作用。
func NewVolatility(defaultWidth float64, defaultLevels int) *Volatility {
	return &Volatility{defaultWidth: defaultWidth, defaultLevels: defaultLevels}
}

// Advise 根据K线计算建议。数据不足时返回错误, 由调用方回退到固定参数。
func (v *Volatility) Advise(_ context.Context, symbol string, candles []models.Candle) (*models.GridAdvice, error) {
	if len(candles) < 60 {
		return nil, fmt.Errorf("%s K线数量 %d 不足以计算波动率特征", symbol, len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	lastClose := closes[len(closes)-1]
	if lastClose <= 0 {
		return nil, fmt.Errorf("%s 收盘价无效", symbol)
	}

	// 波动率特征
	returns := pctChanges(closes)
	recentVol := stddev(tail(returns, 24))
	mediumVol := stddev(tail(returns, 72))
	atrPct := atr(highs, lows, closes, 14) / lastClose
	range24 := rangePct(highs, lows, 24) / lastClose

	volRatio := 1.0
	if mediumVol > 0 {
		volRatio = recentVol / mediumVol
	}

	volRange := math.Max(atrPct*3.0, range24*0.5)
	volRange = clamp(volRange, 0.02, maxWidthPct)

	regime := "normal"
	switch {
	case volRatio > 2.0:
		regime = "extreme"
		volRange *= 1.3
	case volRatio > 1.3:
		regime = "high"
		volRange *= 1.1
	case volRatio < 0.6:
		regime = "low"
		volRange *= 0.85
	}

	width := clamp(volRange*0.6+v.defaultWidth*0.4, minWidthPct, maxWidthPct)

	// 趋势特征: 均线方向 + RSI区间 + MACD柱动量
	ema20 := ema(closes, 20)
	ema50 := ema(closes, 50)
	emaTrend := 0.0
	if ema50 > 0 {
		switch ratio := ema20 / ema50; {
		case ratio > 1.002:
			emaTrend = 1
		case ratio < 0.998:
			emaTrend = -1
		}
	}
	rsiZone := 0.0
	switch r := rsi(closes, 14); {
	case r > 60:
		rsiZone = 1
	case r < 40:
		rsiZone = -1
	}
	macdMomentum := 1.0
	if cur, prev := macdHistogram(closes); cur <= prev {
		macdMomentum = -1
	}
	trendScore := emaTrend*0.4 + rsiZone*0.3 + macdMomentum*0.3

	bias := 0.0
	if math.Abs(trendScore) > 0.3 {
		bias = trendScore * width * 0.15
		// 下行趋势多让网格下移一些
		if trendScore < -0.3 {
			bias *= 1.3
		}
	}

	levels := v.defaultLevels
	if regime != "normal" {
		levels = v.defaultLevels / 2
	}
	if levels < minLevels {
		levels = minLevels
	}

	return &models.GridAdvice{
		WidthPct:          width,
		CenterBias:        bias,
		Confidence:        0.5,
		RecommendedLevels: levels,
		Reason:            fmt.Sprintf("vol=%s(%.1fx) trend=%.2f", regime, volRatio, trendScore),
	}, nil
}

func pctChanges(values []float64) []float64 {
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out = append(out, values[i]/values[i-1]-1)
		}
	}
	return out
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// atr 计算平均真实波幅 (Wilder平滑)。
func atr(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	trs := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		tr := math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		trs = append(trs, tr)
	}
	value := 0.0
	for _, tr := range trs[:period] {
		value += tr
	}
	value /= float64(period)
	for _, tr := range trs[period:] {
		value = (value*float64(period-1) + tr) / float64(period)
	}
	return value
}

func rangePct(highs, lows []float64, n int) float64 {
	h := tail(highs, n)
	l := tail(lows, n)
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, v := range h {
		hi = math.Max(hi, v)
	}
	for _, v := range l {
		lo = math.Min(lo, v)
	}
	return hi - lo
}

func ema(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	k := 2.0 / (float64(period) + 1)
	value := values[0]
	for _, v := range values[1:] {
		value = v*k + value*(1-k)
	}
	return value
}

func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / (float64(period) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

func rsi(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 50
	}
	var gain, loss float64
	start := len(values) - period - 1
	for i := start + 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			gain += diff
		} else {
			loss -= diff
		}
	}
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// macdHistogram 返回最后两根MACD柱, 用于判断动量方向。
func macdHistogram(values []float64) (cur, prev float64) {
	fast := emaSeries(values, 12)
	slow := emaSeries(values, 26)
	macd := make([]float64, len(values))
	for i := range values {
		macd[i] = fast[i] - slow[i]
	}
	signal := emaSeries(macd, 9)
	n := len(values)
	if n < 2 {
		return 0, 0
	}
	return macd[n-1] - signal[n-1], macd[n-2] - signal[n-2]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
