package modes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/data"
	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/factors"
	"github.com/atlas-desktop/trading-backend/internal/tokenpool"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"go.uber.org/zap"
)

// BacktestAdapter replays a source experiment's persisted time-series,
// one recorded round at a time, in ascending loopCount order. It
// reproduces the source experiment's strategy decisions losslessly by
// returning the stored factor_values verbatim instead of recomputing
// them (§4.5, §4.7). Trades are simulated against PortfolioManager with
// no external side effect, and no new time series is recorded.
type BacktestAdapter struct {
	logger     *zap.Logger
	cardConfig types.PositionManagementConfig

	rounds [][]types.TimeSeriesRecord
	cursor int

	current      []types.TimeSeriesRecord
	currentByKey map[string]types.TimeSeriesRecord
}

// NewBacktestAdapter loads and groups the source experiment's time
// series by loopCount. Returns ErrBacktestSourceMissing if the source
// has no recorded rounds to replay.
func NewBacktestAdapter(ctx context.Context, logger *zap.Logger, persistence external.Persistence, sourceExperimentID string, cardConfig types.PositionManagementConfig) (*BacktestAdapter, error) {
	records, err := persistence.GetTimeSeriesByExperiment(ctx, sourceExperimentID)
	if err != nil {
		return nil, fmt.Errorf("modes: %w: %v", engine.ErrBacktestSourceMissing, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("modes: %w: experiment %s has no recorded time series", engine.ErrBacktestSourceMissing, sourceExperimentID)
	}

	report := data.NewTimeSeriesQualityValidator(logger).Validate(sourceExperimentID, records)
	logger.Info("modes: backtest source quality",
		zap.String("experimentID", sourceExperimentID),
		zap.Int("score", report.QualityScore),
		zap.Int("issues", len(report.Issues)))
	if !report.IsUsable {
		logger.Warn("modes: backtest source quality is poor, replaying anyway", zap.Int("score", report.QualityScore))
	}

	byLoop := make(map[int][]types.TimeSeriesRecord)
	for _, rec := range records {
		byLoop[rec.LoopCount] = append(byLoop[rec.LoopCount], rec)
	}
	loops := make([]int, 0, len(byLoop))
	for l := range byLoop {
		loops = append(loops, l)
	}
	sort.Ints(loops)

	rounds := make([][]types.TimeSeriesRecord, len(loops))
	for i, l := range loops {
		rounds[i] = byLoop[l]
	}

	return &BacktestAdapter{
		logger:     logger.Named("mode.backtest"),
		cardConfig: cardConfig,
		rounds:     rounds,
	}, nil
}

// Done reports whether every recorded round has been replayed. The
// driver loop (RunBacktest) checks this between rounds.
func (b *BacktestAdapter) Done() bool {
	return b.cursor >= len(b.rounds)
}

func (b *BacktestAdapter) SyncHoldings(ctx context.Context, eng *engine.Engine) error { return nil }

func (b *BacktestAdapter) HarvestTokens(ctx context.Context) ([]external.ListedToken, error) {
	if b.Done() {
		b.current = nil
		b.currentByKey = nil
		return nil, nil
	}
	b.current = b.rounds[b.cursor]
	b.cursor++

	b.currentByKey = make(map[string]types.TimeSeriesRecord, len(b.current))
	listed := make([]external.ListedToken, 0, len(b.current))
	for _, rec := range b.current {
		key := tokenpool.CanonicalKey(rec.TokenAddress, rec.Blockchain)
		b.currentByKey[key] = rec
		listed = append(listed, external.ListedToken{
			Address: rec.TokenAddress, Symbol: rec.TokenSymbol, Blockchain: rec.Blockchain,
			CreatedAt: rec.Timestamp, CurrentPrice: rec.PriceUSD,
		})
	}
	return listed, nil
}

func (b *BacktestAdapter) RefreshPrices(ctx context.Context, keys []string) (map[string]external.PriceQuote, error) {
	out := make(map[string]external.PriceQuote, len(keys))
	for _, key := range keys {
		if rec, ok := b.currentByKey[key]; ok {
			out[key] = external.PriceQuote{Price: rec.PriceUSD}
		}
	}
	return out, nil
}

func (b *BacktestAdapter) ExecuteBuy(ctx context.Context, eng *engine.Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error) {
	return simulatedBuy(eng, tokenKey, signal, cards, b.cardConfig, b.logger)
}

func (b *BacktestAdapter) ExecuteSell(ctx context.Context, eng *engine.Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error) {
	return simulatedSell(eng, tokenKey, signal, cards, b.cardConfig, b.logger)
}

func (b *BacktestAdapter) ShouldRecordTimeSeries() bool { return false }

// BuildFactors returns the replayed round's stored factor_values
// verbatim when available, falling back to live recomputation for a
// token the source round did not cover.
func (b *BacktestAdapter) BuildFactors(builder *factors.Builder, tokenKey string, tok *types.Token, now time.Time) map[string]float64 {
	if rec, ok := b.currentByKey[tokenKey]; ok && rec.FactorValues != nil {
		return factors.BuildFromRecord(rec)
	}
	return builder.Build(tokenKey, tok, now)
}

// RunBacktest drives a BacktestAdapter to completion: one RunRound per
// recorded source round, as fast as the replay can go (no ticker), then
// marks the experiment completed or failed (§4.7 "terminates after the
// last round").
func RunBacktest(ctx context.Context, logger *zap.Logger, eng *engine.Engine, adapter *BacktestAdapter, persistence external.Persistence) error {
	experimentID := eng.Experiment().ID
	for !adapter.Done() {
		select {
		case <-ctx.Done():
			if persistence != nil {
				_ = persistence.UpdateExperimentStatus(ctx, experimentID, types.ExperimentFailed, time.Now())
			}
			return ctx.Err()
		case <-eng.StopChan():
			if persistence != nil {
				_ = persistence.UpdateExperimentStatus(ctx, experimentID, types.ExperimentStopped, time.Now())
			}
			return nil
		default:
		}
		if _, err := eng.RunRound(ctx); err != nil {
			logger.Error("backtest: round failed", zap.Error(err))
			if persistence != nil {
				_ = persistence.UpdateExperimentStatus(ctx, experimentID, types.ExperimentFailed, time.Now())
			}
			return err
		}
	}
	if persistence != nil {
		_ = persistence.UpdateExperimentStatus(ctx, experimentID, types.ExperimentCompleted, time.Now())
	}
	return nil
}
