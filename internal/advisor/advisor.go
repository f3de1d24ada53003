package advisor

import (
	"context"

	"grid-trader-go/internal/models"
)

// Advisor 根据近期行情对网格参数给出建议。
// 建议是纯函数式的: 同样的K线输入得到同样的建议。
type Advisor interface {
	Advise(ctx context.Context, symbol string, candles []models.Candle) (*models.GridAdvice, error)
}

// Fixed 总是返回配置里的固定参数, 顾问被禁用或出错时作为兜底。
type Fixed struct {
	WidthPct   float64
	CenterBias float64
	Levels     int
}

func (f Fixed) Advise(_ context.Context, _ string, _ []models.Candle) (*models.GridAdvice, error) {
	return &models.GridAdvice{
		WidthPct:          f.WidthPct,
		CenterBias:        f.CenterBias,
		RecommendedLevels: f.Levels,
		Confidence:        0,
		Reason:            "固定默认参数",
	}, nil
}
