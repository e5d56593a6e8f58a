// Package factors implements FactorBuilder (component C5): deriving the
// closed, named factor map from token state and market data each tick.
package factors

import (
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// Keys is the canonical, closed set of factor names this builder
// produces (§4.5). StrategyEngine.LoadStrategies is validated against
// exactly this set.
func Keys() map[string]struct{} {
	names := []string{
		"age", "currentPrice", "collectionPrice", "launchPrice",
		"earlyReturn", "riseSpeed", "buyPrice", "holdDuration",
		"profitPercent", "highestPrice", "highestPriceTimestamp",
		"drawdownFromHighest", "txVolumeU24h", "holders", "tvl", "fdv", "marketCap",
		"trendCV", "trendDirectionCount", "trendStrengthScore", "trendTotalReturn",
		"trendRiseRatio", "trendConsecutiveDowns", "trendRecentDownRatio",
		"trendPriceChangeFromDetect", "trendSinceBuyReturn",
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// Builder derives factor maps from Token state plus a per-token rolling
// price history used for the trend factor family.
type Builder struct {
	histories map[string]*PriceHistory
}

// New creates an empty Builder.
func New() *Builder {
	return &Builder{histories: make(map[string]*PriceHistory)}
}

// Build derives the factor map for one token at time `now`. launchPrice
// is the token's collection price, recorded when it entered the pool; no
// separate on-chain launch price is looked up.
// tokenKey must be stable across calls for the same token so the
// rolling trend window accumulates correctly.
func (b *Builder) Build(tokenKey string, tok *types.Token, now time.Time) map[string]float64 {
	hist, ok := b.histories[tokenKey]
	if !ok {
		hist = NewPriceHistory()
		b.histories[tokenKey] = hist
	}
	hist.Push(tok.CurrentPrice)

	launchPrice := tok.CollectionPrice
	ageMinutes := now.Sub(tok.CreatedAt).Minutes()

	earlyReturn := 0.0
	if launchPrice.GreaterThan(decimal.Zero) {
		diff := tok.CurrentPrice.Sub(launchPrice).Div(launchPrice).Mul(decimal.NewFromInt(100))
		earlyReturn, _ = diff.Float64()
	}

	riseSpeed := 0.0
	if ageMinutes > 0 {
		riseSpeed = earlyReturn / ageMinutes
	}

	hasBought := tok.BuyPrice.GreaterThan(decimal.Zero)
	profitPercent := 0.0
	holdDuration := 0.0
	if hasBought {
		if !tok.BuyPrice.IsZero() {
			diff := tok.CurrentPrice.Sub(tok.BuyPrice).Div(tok.BuyPrice).Mul(decimal.NewFromInt(100))
			profitPercent, _ = diff.Float64()
		}
		holdDuration = now.Sub(tok.BuyTime).Seconds()
	}

	drawdown := 0.0
	if tok.HighestPrice.GreaterThan(decimal.Zero) && tok.CurrentPrice.LessThan(tok.HighestPrice) {
		diff := tok.CurrentPrice.Sub(tok.HighestPrice).Div(tok.HighestPrice).Mul(decimal.NewFromInt(100))
		drawdown, _ = diff.Float64()
		if drawdown < -100 {
			drawdown = -100
		}
	}

	trend := Compute(hist, tok.BuyPrice)

	currentPriceF, _ := tok.CurrentPrice.Float64()
	collectionPriceF, _ := tok.CollectionPrice.Float64()
	launchPriceF, _ := launchPrice.Float64()
	buyPriceF, _ := tok.BuyPrice.Float64()
	highestPriceF, _ := tok.HighestPrice.Float64()
	volumeF, _ := tok.Metrics.Volume24h.Float64()
	tvlF, _ := tok.Metrics.TVL.Float64()
	fdvF, _ := tok.Metrics.FDV.Float64()
	marketCapF, _ := tok.Metrics.MarketCap.Float64()

	return map[string]float64{
		"age":                        ageMinutes,
		"currentPrice":               currentPriceF,
		"collectionPrice":            collectionPriceF,
		"launchPrice":                launchPriceF,
		"earlyReturn":                earlyReturn,
		"riseSpeed":                  riseSpeed,
		"buyPrice":                   buyPriceF,
		"holdDuration":               holdDuration,
		"profitPercent":              profitPercent,
		"highestPrice":               highestPriceF,
		"highestPriceTimestamp":      float64(tok.HighestPriceAt.Unix()),
		"drawdownFromHighest":        drawdown,
		"txVolumeU24h":               volumeF,
		"holders":                    float64(tok.Metrics.Holders),
		"tvl":                        tvlF,
		"fdv":                        fdvF,
		"marketCap":                  marketCapF,
		"trendCV":                    trend.CV,
		"trendDirectionCount":        trend.DirectionCount,
		"trendStrengthScore":         trend.StrengthScore,
		"trendTotalReturn":           trend.TotalReturn,
		"trendRiseRatio":             trend.RiseRatio,
		"trendConsecutiveDowns":      trend.ConsecutiveDowns,
		"trendRecentDownRatio":       trend.RecentDownRatio,
		"trendPriceChangeFromDetect": trend.PriceChangeFromDetect,
		"trendSinceBuyReturn":        trend.SinceBuyReturn,
	}
}

// BuildFromRecord reconstructs a factor map directly from a persisted
// TimeSeriesRecord, bypassing live history accumulation. Used by
// backtest mode, which must reproduce byte-equivalent strategy decisions
// from a replayed snapshot (§4.5 "lossless serialization" contract) —
// the persisted factor_values map IS the factor map, verbatim.
func BuildFromRecord(rec types.TimeSeriesRecord) map[string]float64 {
	return rec.FactorValues
}

// Reset discards the rolling history for a token, used when a token is
// evicted from the pool so a later re-add starts with a fresh window.
func (b *Builder) Reset(tokenKey string) {
	delete(b.histories, tokenKey)
}
