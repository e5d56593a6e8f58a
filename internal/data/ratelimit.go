package data

import (
	"context"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxBatchIds is the upstream market-data API's largest accepted batch
// (§6 "up to 200 ids per call").
const maxBatchIds = 200

// RateLimitedMarketData wraps an external.MarketDataAPI, splitting a
// GetPrices call into maxBatchIds-sized chunks and pacing chunk requests
// against a token bucket so a round with many monitored tokens never
// bursts the upstream API's rate limit.
type RateLimitedMarketData struct {
	logger   *zap.Logger
	upstream external.MarketDataAPI
	limiter  *rate.Limiter
}

// NewRateLimitedMarketData wraps upstream with a limiter allowing
// callsPerSecond batched calls, bursting up to int(callsPerSecond)+1.
func NewRateLimitedMarketData(logger *zap.Logger, upstream external.MarketDataAPI, callsPerSecond float64) *RateLimitedMarketData {
	if callsPerSecond <= 0 {
		callsPerSecond = 5
	}
	return &RateLimitedMarketData{
		logger:   logger.Named("data.ratelimit"),
		upstream: upstream,
		limiter:  rate.NewLimiter(rate.Limit(callsPerSecond), int(callsPerSecond)+1),
	}
}

var _ external.MarketDataAPI = (*RateLimitedMarketData)(nil)

// GetPrices implements external.MarketDataAPI by chunking ids and
// rate-limiting each chunk's upstream call. Results from every chunk are
// merged; a chunk error is logged and skipped rather than failing the
// whole round (§7 "round continues").
func (r *RateLimitedMarketData) GetPrices(ctx context.Context, ids []string) (map[string]external.PriceQuote, error) {
	out := make(map[string]external.PriceQuote, len(ids))
	for start := 0; start < len(ids); start += maxBatchIds {
		end := start + maxBatchIds
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		if err := r.limiter.Wait(ctx); err != nil {
			return out, err
		}
		quotes, err := r.upstream.GetPrices(ctx, chunk)
		if err != nil {
			r.logger.Warn("data: batched price fetch failed, skipping chunk",
				zap.Int("chunkSize", len(chunk)), zap.Error(err))
			continue
		}
		for id, q := range quotes {
			out[id] = q
		}
	}
	return out, nil
}
