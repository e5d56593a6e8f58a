// Package engine implements AbstractEngine (component C6): the
// mode-agnostic per-round pipeline shared by virtual, backtest, and live
// experiments. Mode-specific behavior is injected through ModeAdapter;
// this package owns ordering, error policy, and accounting.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/factors"
	"github.com/atlas-desktop/trading-backend/internal/portfolio"
	"github.com/atlas-desktop/trading-backend/internal/strategy"
	"github.com/atlas-desktop/trading-backend/internal/tokenpool"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ModeAdapter implements the four mode-specific hooks of §4.7. One
// concrete adapter per mode lives in internal/modes.
type ModeAdapter interface {
	// SyncHoldings brings Portfolio/TokenPool card state into agreement
	// with the mode's source of truth. Must preserve card-allocation
	// state for tokens already tracked (§9 Design Note).
	SyncHoldings(ctx context.Context, eng *Engine) error
	// HarvestTokens obtains the tokens to evaluate this round.
	HarvestTokens(ctx context.Context) ([]external.ListedToken, error)
	// RefreshPrices is a batched price lookup keyed by tokenpool.CanonicalKey.
	RefreshPrices(ctx context.Context, keys []string) (map[string]external.PriceQuote, error)
	// ExecuteBuy/ExecuteSell perform the mode-specific order dispatch and
	// are responsible for calling eng.Portfolio.ExecuteTrade and the
	// token's CardPositionManager transfer using ACTUAL fill amounts
	// (never the signal's intended price — §4.7 live-mode contract).
	ExecuteBuy(ctx context.Context, eng *Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error)
	ExecuteSell(ctx context.Context, eng *Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error)
	// ShouldRecordTimeSeries reports whether this round's factor
	// snapshots should be persisted (false for backtest replay, §4.7).
	ShouldRecordTimeSeries() bool
	// BuildFactors derives the factor map for one token this round.
	// Virtual/live delegate to builder.Build; backtest returns the
	// replayed round's persisted factor_values verbatim so strategy
	// decisions reproduce byte-for-byte (§4.5 "lossless serialization").
	BuildFactors(builder *factors.Builder, tokenKey string, tok *types.Token, now time.Time) map[string]float64
}

// Config configures a new Engine.
type Config struct {
	Experiment   *types.Experiment
	Adapter      ModeAdapter
	Persistence  external.Persistence
	InitialCash  decimal.Decimal
	Registerer   prometheus.Registerer // may be nil to skip metrics registration
}

// metrics are one Engine's Prometheus collectors, labeled by experiment
// id. Each Engine builds its own; they are registered only when
// Config.Registerer is non-nil.
type metrics struct {
	roundDuration   *prometheus.HistogramVec
	signalsEvaluated *prometheus.CounterVec
	tradesExecuted  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		roundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "engine_round_duration_seconds",
			Help: "Duration of one scheduler round.",
		}, []string{"experiment_id"}),
		signalsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_evaluated_total",
			Help: "Strategy signals evaluated.",
		}, []string{"experiment_id"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_executed_total",
			Help: "Trades successfully executed.",
		}, []string{"experiment_id", "direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.roundDuration, m.signalsEvaluated, m.tradesExecuted)
	}
	return m
}

// Engine drives one Experiment's per-round pipeline. Exactly one
// scheduling goroutine (owned by the mode adapter's main loop) ever
// calls RunRound for a given Engine at a time.
type Engine struct {
	logger *zap.Logger
	mu     sync.Mutex

	experiment  *types.Experiment
	adapter     ModeAdapter
	persistence external.Persistence
	metrics     *metrics

	Pool       *tokenpool.Pool
	Portfolio  *portfolio.Manager
	Strategies *strategy.Engine
	Factors    *factors.Builder

	loopCount int
	stopChan  chan struct{}
}

// New constructs an Engine wired with fresh TokenPool/Portfolio/
// StrategyEngine/FactorBuilder instances.
func New(logger *zap.Logger, cfg Config) *Engine {
	named := logger.Named("engine").With(zap.String("experimentId", cfg.Experiment.ID))
	return &Engine{
		logger:      named,
		experiment:  cfg.Experiment,
		adapter:     cfg.Adapter,
		persistence: cfg.Persistence,
		metrics:     newMetrics(cfg.Registerer),
		Pool:        tokenpool.New(named, tokenpool.Config{TokenTTL: 7 * 24 * time.Hour, InactiveAfter: 6 * time.Hour}),
		Portfolio:   portfolio.New(named, cfg.Experiment.ID, cfg.InitialCash),
		Strategies:  strategy.New(named),
		Factors:     factors.New(),
		stopChan:    make(chan struct{}),
	}
}

// LoadStrategies validates and installs the experiment's configured
// strategies, or the hard-coded defaults for virtual/backtest when the
// config omits them — live mode must require explicit config (§6).
func (e *Engine) LoadStrategies(defs map[string]types.StrategyDefinition) error {
	if len(defs) == 0 {
		if e.experiment.Mode == types.ModeLive {
			return fmt.Errorf("engine: %w: live mode requires explicit strategiesConfig", ErrConfig)
		}
		defs = DefaultStrategies()
	}
	if err := e.Strategies.LoadStrategies(defs, factors.Keys()); err != nil {
		return fmt.Errorf("engine: %w: %v", ErrStrategyExpression, err)
	}
	return nil
}

// Stop closes the stop channel. An in-flight RunRound finishes its
// current token and returns before cleanup and the round's snapshot;
// the mode adapter's main loop then exits. Stop writes no final
// snapshot; of the loops in package modes, only RunBacktest records the
// stopped status.
func (e *Engine) Stop() {
	close(e.stopChan)
}

// StopChan exposes the cancellation channel to mode adapters.
func (e *Engine) StopChan() <-chan struct{} { return e.stopChan }

// Experiment returns the experiment this engine drives.
func (e *Engine) Experiment() *types.Experiment { return e.experiment }

// RoundSummary is what RunRound reports, and what "emit round summary"
// (§4.6 step 7) is built from.
type RoundSummary struct {
	LoopCount       int
	TokensEvaluated int
	SignalsFired    int
	TradesExecuted  int
	PriceMisses     int
	Duration        time.Duration
}

// RunRound executes the per-round pipeline of §4.6 in strict order. The
// caller (a mode adapter's main loop) is the sole scheduling thread for
// this Engine.
func (e *Engine) RunRound(ctx context.Context) (RoundSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.loopCount++
	summary := RoundSummary{LoopCount: e.loopCount}

	// 1. syncHoldings — failure does not abort the round (§5 Timeouts).
	if err := e.adapter.SyncHoldings(ctx, e); err != nil {
		e.logger.Warn("engine: holding sync failed, continuing with stale portfolio",
			zap.Error(fmt.Errorf("%w: %v", ErrSync, err)))
	}

	// 2. harvestTokens
	listed, err := e.adapter.HarvestTokens(ctx)
	if err != nil {
		e.logger.Error("engine: harvest failed", zap.Error(err))
	}
	for _, lt := range listed {
		e.Pool.AddToken(tokenpool.AddTokenInput{
			Address: lt.Address, Symbol: lt.Symbol, Blockchain: lt.Blockchain,
			CreatedAt: lt.CreatedAt, CurrentPrice: lt.CurrentPrice,
		})
	}

	tokens := e.Pool.GetMonitoringTokens()
	keys := make([]string, 0, len(tokens))
	keyOf := make(map[*types.Token]string, len(tokens))
	for _, tok := range tokens {
		key := tokenpool.CanonicalKey(tok.Address, tok.Blockchain)
		keys = append(keys, key)
		keyOf[tok] = key
	}

	// 3. refreshPrices — batched, mode-specific source.
	quotes, err := e.adapter.RefreshPrices(ctx, keys)
	if err != nil {
		e.logger.Warn("engine: price refresh failed for this round", zap.Error(err))
		quotes = map[string]external.PriceQuote{}
	}

	now := time.Now()

	// 4. per-token factor build + evaluate + dispatch, strictly sequential.
	for _, tok := range tokens {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-e.stopChan:
			return summary, nil
		default:
		}

		key := keyOf[tok]
		quote, ok := quotes[key]
		if !ok {
			summary.PriceMisses++
			e.logger.Debug("engine: no price this round, skipping token",
				zap.Error(ErrPriceUnavailable), zap.String("token", key))
			continue
		}
		e.Pool.UpdatePrice(tok.Address, tok.Blockchain, quote.Price, now, tokenpool.PriceExtras{
			Volume24h: quote.Volume24h, Holders: quote.Holders, TVL: quote.TVL, FDV: quote.FDV, MarketCap: quote.MarketCap,
		})
		e.Portfolio.RefreshPrice(key, quote.Price)

		factorMap := e.adapter.BuildFactors(e.Factors, key, tok, now)
		summary.TokensEvaluated++

		if e.adapter.ShouldRecordTimeSeries() && e.persistence != nil {
			_ = e.persistence.InsertTimeSeries(ctx, types.TimeSeriesRecord{
				ExperimentID: e.experiment.ID, TokenAddress: tok.Address, TokenSymbol: tok.Symbol,
				Timestamp: now, LoopCount: e.loopCount, PriceUSD: quote.Price,
				FactorValues: factorMap, Blockchain: tok.Blockchain,
			})
		}

		compiled := e.Strategies.Evaluate(factorMap, tok.Address, now)
		if compiled == nil {
			continue
		}
		if !statusMatches(compiled.Def.Action, tok.Status) {
			continue
		}
		summary.SignalsFired++
		if e.metrics != nil {
			e.metrics.signalsEvaluated.WithLabelValues(e.experiment.ID).Inc()
		}

		signal := types.TradeSignal{
			ID: uuid.NewString(), ExperimentID: e.experiment.ID,
			TokenAddress: tok.Address, TokenSymbol: tok.Symbol,
			Action: compiled.Def.Action, Reason: fmt.Sprintf("strategy %s matched", compiled.Def.ID),
			Factors: factorMap, Price: quote.Price, StrategyID: compiled.Def.ID, CreatedAt: now,
		}
		result, err := e.processSignal(ctx, key, tok.Blockchain, signal, compiled, compiled.Def.Cards)
		if err != nil {
			e.logger.Warn("engine: signal processing failed", zap.Error(err))
			continue
		}
		if result.success {
			summary.TradesExecuted++
			if e.metrics != nil {
				e.metrics.tradesExecuted.WithLabelValues(e.experiment.ID, string(compiled.Def.Action)).Inc()
			}
		}
	}

	// 5. cleanupInactive
	e.Pool.Cleanup(now)
	e.Pool.CleanupInactiveTokens(now)

	// 6. createPortfolioSnapshot
	if e.persistence != nil {
		_ = e.persistence.InsertSnapshot(ctx, e.Portfolio.Snapshot(now))
	}

	// 7. emit round summary
	summary.Duration = time.Since(start)
	if e.metrics != nil {
		e.metrics.roundDuration.WithLabelValues(e.experiment.ID).Observe(summary.Duration.Seconds())
	}
	e.logger.Info("engine: round complete",
		zap.Int("loopCount", summary.LoopCount),
		zap.Int("tokensEvaluated", summary.TokensEvaluated),
		zap.Int("signalsFired", summary.SignalsFired),
		zap.Int("tradesExecuted", summary.TradesExecuted),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func statusMatches(action types.TradeDirection, status types.TokenStatus) bool {
	switch action {
	case types.DirectionBuy:
		return status == types.TokenMonitoring
	case types.DirectionSell:
		return status == types.TokenBought
	default:
		return false
	}
}

type processResult struct {
	success bool
	tradeID string
	message string
}

// processSignal implements §4.6's dispatch contract: persist with
// executed=false, dispatch, then update counters/signal/trade on
// success or the failure reason on failure.
func (e *Engine) processSignal(ctx context.Context, tokenKey, blockchain string, signal types.TradeSignal, compiled *strategy.Compiled, cards int) (processResult, error) {
	signal.Outcome = types.SignalOutcome{Executed: false}
	if e.persistence != nil {
		if err := e.persistence.InsertSignal(ctx, signal); err != nil {
			e.logger.Warn("engine: failed to persist signal", zap.Error(err))
		}
	}

	var result external.TradeResult
	var dispatchErr error
	switch signal.Action {
	case types.DirectionBuy:
		result, dispatchErr = e.adapter.ExecuteBuy(ctx, e, tokenKey, signal, cards)
	case types.DirectionSell:
		result, dispatchErr = e.adapter.ExecuteSell(ctx, e, tokenKey, signal, cards)
	}

	if dispatchErr != nil || !result.Success {
		reason := result.Reason
		if reason == "" && dispatchErr != nil {
			reason = dispatchErr.Error()
		}
		signal.Outcome = types.SignalOutcome{Executed: false, ErrorMessage: reason}
		if e.persistence != nil {
			_ = e.persistence.UpdateSignal(ctx, signal)
		}
		return processResult{success: false, message: reason}, nil
	}

	tradeID := uuid.NewString()
	trade := types.ExperimentTrade{
		ID: tradeID, ExperimentID: e.experiment.ID, SignalID: signal.ID,
		Direction: signal.Action, UnitPrice: signal.Price, Success: true,
		TxHash: result.TxHash, Timestamp: time.Now(),
	}
	if e.persistence != nil {
		_ = e.persistence.InsertTrade(ctx, trade)
	}

	e.Strategies.RecordExecution(compiled.Def.ID, time.Now())
	e.Pool.RecordStrategyExecution(signal.TokenAddress, blockchain, compiled.Def.ID, time.Now())
	switch signal.Action {
	case types.DirectionBuy:
		e.Pool.MarkAsBought(signal.TokenAddress, blockchain, signal.Price, time.Now())
	case types.DirectionSell:
		if !e.Portfolio.HasPosition(tokenKey) {
			e.Pool.MarkFullySold(signal.TokenAddress, blockchain)
		}
	}

	signal.Outcome = types.SignalOutcome{Executed: true, TradeID: tradeID}
	if e.persistence != nil {
		_ = e.persistence.UpdateSignal(ctx, signal)
	}
	return processResult{success: true, tradeID: tradeID}, nil
}

// DefaultStrategies returns the hard-coded strategy set used by
// virtual/backtest when the experiment config omits strategiesConfig
// (§6). Live mode must never fall back to these.
func DefaultStrategies() map[string]types.StrategyDefinition {
	return map[string]types.StrategyDefinition{
		"default-buy": {
			ID: "default-buy", Name: "Default early-return buy", Action: types.DirectionBuy,
			Priority: 1, CooldownSeconds: 0, Cards: 1,
			Condition: "earlyReturn >= 80 AND earlyReturn <= 120",
		},
		"default-sell": {
			ID: "default-sell", Name: "Default take-profit sell", Action: types.DirectionSell,
			Priority: 1, CooldownSeconds: 0, Cards: 1,
			Condition: "profitPercent >= 30",
		},
	}
}
