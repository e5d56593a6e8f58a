package factors

import (
	"github.com/shopspring/decimal"
)

// sqrtDecimal computes a square root via Newton's method, adapted from
// the teacher's indicator-strategy helper of the same name — trend
// factors need the same rolling-statistics primitive (stddev for
// trendCV) that the old momentum/mean-reversion strategies used.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	x := d
	for i := 0; i < 20; i++ {
		x = x.Add(d.Div(x)).Div(decimal.NewFromInt(2))
	}
	return x
}

// maxTrendWindow bounds how many recent prices PriceHistory retains.
const maxTrendWindow = 30

// PriceHistory is a small rolling window of recent prices for one
// token, used to compute the trend factor family.
type PriceHistory struct {
	prices        []decimal.Decimal
	detectedPrice decimal.Decimal
	hasDetected   bool
}

// NewPriceHistory creates an empty rolling window.
func NewPriceHistory() *PriceHistory {
	return &PriceHistory{}
}

// Push appends a new observed price, evicting the oldest once the
// window exceeds maxTrendWindow, and remembers the first price pushed
// as the "detected" price for trendPriceChangeFromDetect.
func (h *PriceHistory) Push(price decimal.Decimal) {
	if !h.hasDetected {
		h.detectedPrice = price
		h.hasDetected = true
	}
	h.prices = append(h.prices, price)
	if len(h.prices) > maxTrendWindow {
		h.prices = h.prices[len(h.prices)-maxTrendWindow:]
	}
}

// TrendFactors is the trend-family subset of the factor map (§4.5).
type TrendFactors struct {
	CV                  float64
	DirectionCount       float64
	StrengthScore        float64
	TotalReturn          float64
	RiseRatio            float64
	ConsecutiveDowns     float64
	RecentDownRatio      float64
	PriceChangeFromDetect float64
	SinceBuyReturn       float64
}

// Compute derives the trend factor family from the rolling window.
// sinceBuyPrice may be the zero value when the token has not been
// bought; SinceBuyReturn is then 0 per the profitPercent/holdDuration
// "0 unless bought" contract (§4.5).
func Compute(h *PriceHistory, sinceBuyPrice decimal.Decimal) TrendFactors {
	n := len(h.prices)
	if n == 0 {
		return TrendFactors{}
	}

	mean := decimal.Zero
	for _, p := range h.prices {
		mean = mean.Add(p)
	}
	mean = mean.Div(decimal.NewFromInt(int64(n)))

	variance := decimal.Zero
	riseCount, downCount, consecutiveDowns, maxConsecutiveDowns := 0, 0, 0, 0
	recentWindow := n
	if recentWindow > 5 {
		recentWindow = 5
	}
	recentDowns := 0

	for i, p := range h.prices {
		diff := p.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
		if i > 0 {
			prev := h.prices[i-1]
			switch {
			case p.GreaterThan(prev):
				riseCount++
				consecutiveDowns = 0
			case p.LessThan(prev):
				downCount++
				consecutiveDowns++
				if consecutiveDowns > maxConsecutiveDowns {
					maxConsecutiveDowns = consecutiveDowns
				}
				if i > n-recentWindow {
					recentDowns++
				}
			}
		}
	}
	variance = variance.Div(decimal.NewFromInt(int64(n)))
	stddev := sqrtDecimal(variance)

	cv := decimal.Zero
	if !mean.IsZero() {
		cv = stddev.Div(mean)
	}

	first := h.prices[0]
	last := h.prices[n-1]
	totalReturn := decimal.Zero
	if !first.IsZero() {
		totalReturn = last.Sub(first).Div(first).Mul(decimal.NewFromInt(100))
	}

	moves := riseCount + downCount
	riseRatio := decimal.Zero
	if moves > 0 {
		riseRatio = decimal.NewFromInt(int64(riseCount)).Div(decimal.NewFromInt(int64(moves)))
	}
	recentDownRatio := decimal.Zero
	if recentWindow > 1 {
		recentDownRatio = decimal.NewFromInt(int64(recentDowns)).Div(decimal.NewFromInt(int64(recentWindow - 1)))
	}

	// strengthScore blends direction consistency and magnitude: how
	// decisively the window has moved in one direction.
	strengthScore := riseRatio.Sub(decimal.NewFromFloat(0.5)).Mul(decimal.NewFromInt(2)).Mul(totalReturn.Abs())

	priceChangeFromDetect := decimal.Zero
	if h.hasDetected && !h.detectedPrice.IsZero() {
		priceChangeFromDetect = last.Sub(h.detectedPrice).Div(h.detectedPrice).Mul(decimal.NewFromInt(100))
	}

	sinceBuyReturn := decimal.Zero
	if sinceBuyPrice.GreaterThan(decimal.Zero) {
		sinceBuyReturn = last.Sub(sinceBuyPrice).Div(sinceBuyPrice).Mul(decimal.NewFromInt(100))
	}

	cvF, _ := cv.Float64()
	totalReturnF, _ := totalReturn.Float64()
	riseRatioF, _ := riseRatio.Float64()
	recentDownRatioF, _ := recentDownRatio.Float64()
	strengthScoreF, _ := strengthScore.Float64()
	priceChangeF, _ := priceChangeFromDetect.Float64()
	sinceBuyF, _ := sinceBuyReturn.Float64()

	return TrendFactors{
		CV:                    cvF,
		DirectionCount:        float64(riseCount - downCount),
		StrengthScore:         strengthScoreF,
		TotalReturn:           totalReturnF,
		RiseRatio:             riseRatioF,
		ConsecutiveDowns:      float64(maxConsecutiveDowns),
		RecentDownRatio:       recentDownRatioF,
		PriceChangeFromDetect: priceChangeF,
		SinceBuyReturn:        sinceBuyF,
	}
}
