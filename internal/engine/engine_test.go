package engine

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/factors"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// stubAdapter is a minimal ModeAdapter used to exercise RunRound's
// pipeline ordering without any real I/O.
type stubAdapter struct {
	listed          []external.ListedToken
	prices          map[string]external.PriceQuote
	recordTimeSeries bool
	buyCalls        int
	sellCalls       int
}

func (s *stubAdapter) SyncHoldings(ctx context.Context, eng *Engine) error { return nil }

func (s *stubAdapter) HarvestTokens(ctx context.Context) ([]external.ListedToken, error) {
	return s.listed, nil
}

func (s *stubAdapter) RefreshPrices(ctx context.Context, keys []string) (map[string]external.PriceQuote, error) {
	return s.prices, nil
}

func (s *stubAdapter) ExecuteBuy(ctx context.Context, eng *Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error) {
	s.buyCalls++
	if err := eng.Portfolio.ExecuteTrade(tokenKey, types.DirectionBuy, decimal.NewFromInt(1), signal.Price); err != nil {
		return external.TradeResult{Success: false, Reason: err.Error()}, nil
	}
	return external.TradeResult{Success: true, TxHash: "0xstub"}, nil
}

func (s *stubAdapter) ExecuteSell(ctx context.Context, eng *Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error) {
	s.sellCalls++
	if err := eng.Portfolio.ExecuteTrade(tokenKey, types.DirectionSell, decimal.NewFromInt(1), signal.Price); err != nil {
		return external.TradeResult{Success: false, Reason: err.Error()}, nil
	}
	return external.TradeResult{Success: true, TxHash: "0xstub"}, nil
}

func (s *stubAdapter) ShouldRecordTimeSeries() bool { return s.recordTimeSeries }

func (s *stubAdapter) BuildFactors(builder *factors.Builder, tokenKey string, tok *types.Token, now time.Time) map[string]float64 {
	return builder.Build(tokenKey, tok, now)
}

func newTestExperiment(mode types.ExperimentMode) *types.Experiment {
	return &types.Experiment{ID: "exp-1", Mode: mode, Status: types.ExperimentRunning}
}

func TestRunRoundHarvestsAndEvaluatesTokens(t *testing.T) {
	adapter := &stubAdapter{
		listed: []external.ListedToken{
			{Address: "0xAAA", Symbol: "FOO", Blockchain: "ethereum", CreatedAt: time.Now(), CurrentPrice: decimal.NewFromInt(1)},
		},
		prices: map[string]external.PriceQuote{
			"0xaaa|ethereum": {Price: decimal.NewFromFloat(2.0)},
		},
	}
	eng := New(zap.NewNop(), Config{
		Experiment:  newTestExperiment(types.ModeVirtual),
		Adapter:     adapter,
		InitialCash: decimal.NewFromInt(1000),
	})
	defs := map[string]types.StrategyDefinition{
		"buy": {ID: "buy", Action: types.DirectionBuy, Condition: "earlyReturn > 50"},
	}
	if err := eng.LoadStrategies(defs); err != nil {
		t.Fatalf("LoadStrategies failed: %v", err)
	}

	summary, err := eng.RunRound(context.Background())
	if err != nil {
		t.Fatalf("RunRound failed: %v", err)
	}
	if summary.TokensEvaluated != 1 {
		t.Fatalf("tokensEvaluated = %d, want 1", summary.TokensEvaluated)
	}
	if summary.SignalsFired != 1 || summary.TradesExecuted != 1 {
		t.Fatalf("signalsFired=%d tradesExecuted=%d, want 1/1", summary.SignalsFired, summary.TradesExecuted)
	}
	if adapter.buyCalls != 1 {
		t.Fatalf("buyCalls = %d, want 1", adapter.buyCalls)
	}

	tok := eng.Pool.Get("0xAAA", "ethereum")
	if tok.Status != types.TokenBought {
		t.Fatalf("token status = %s, want bought after successful buy", tok.Status)
	}
}

func TestLoadStrategiesRejectsEmptyConfigInLiveMode(t *testing.T) {
	eng := New(zap.NewNop(), Config{
		Experiment:  newTestExperiment(types.ModeLive),
		Adapter:     &stubAdapter{},
		InitialCash: decimal.NewFromInt(1000),
	})
	if err := eng.LoadStrategies(nil); err == nil {
		t.Fatal("expected error requiring explicit strategiesConfig in live mode")
	}
}

func TestLoadStrategiesFallsBackToDefaultsInVirtualMode(t *testing.T) {
	eng := New(zap.NewNop(), Config{
		Experiment:  newTestExperiment(types.ModeVirtual),
		Adapter:     &stubAdapter{},
		InitialCash: decimal.NewFromInt(1000),
	})
	if err := eng.LoadStrategies(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eng.Strategies.Strategies()) == 0 {
		t.Fatal("expected default strategies to be loaded")
	}
}

func TestRunRoundSkipsTokenWithNoPriceQuote(t *testing.T) {
	adapter := &stubAdapter{
		listed: []external.ListedToken{
			{Address: "0xAAA", Symbol: "FOO", Blockchain: "ethereum", CreatedAt: time.Now(), CurrentPrice: decimal.NewFromInt(1)},
		},
		prices: map[string]external.PriceQuote{},
	}
	eng := New(zap.NewNop(), Config{
		Experiment:  newTestExperiment(types.ModeVirtual),
		Adapter:     adapter,
		InitialCash: decimal.NewFromInt(1000),
	})
	if err := eng.LoadStrategies(nil); err != nil {
		t.Fatalf("LoadStrategies failed: %v", err)
	}
	summary, err := eng.RunRound(context.Background())
	if err != nil {
		t.Fatalf("RunRound failed: %v", err)
	}
	if summary.PriceMisses != 1 || summary.TokensEvaluated != 0 {
		t.Fatalf("priceMisses=%d tokensEvaluated=%d, want 1/0", summary.PriceMisses, summary.TokensEvaluated)
	}
}
