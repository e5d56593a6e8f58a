package tokenpool

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestPool() *Pool {
	return New(zap.NewNop(), Config{
		TokenTTL:      24 * time.Hour,
		InactiveAfter: time.Hour,
	})
}

func TestCanonicalKeyEVMLowercasesSolanaPreserves(t *testing.T) {
	if got, want := CanonicalAddress("0xABCDEF", "ethereum"), "0xabcdef"; got != want {
		t.Fatalf("evm address = %s, want %s", got, want)
	}
	if got, want := CanonicalAddress("0xABCDEF", "bsc"), "0xabcdef"; got != want {
		t.Fatalf("bsc address = %s, want %s", got, want)
	}
	mixedCase := "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	if got := CanonicalAddress(mixedCase, "solana"); got != mixedCase {
		t.Fatalf("solana address = %s, want unchanged %s", got, mixedCase)
	}
}

func TestAddTokenIsIdempotent(t *testing.T) {
	p := newTestPool()
	in := AddTokenInput{
		Address: "0xAAA", Symbol: "FOO", Blockchain: "ethereum",
		CreatedAt: time.Now(), CurrentPrice: decimal.NewFromFloat(1.5),
	}
	p.AddToken(in)
	p.AddToken(in)
	if p.Len() != 1 {
		t.Fatalf("len = %d, want 1 after duplicate AddToken", p.Len())
	}
	tok := p.Get("0xaaa", "ethereum")
	if tok == nil {
		t.Fatal("expected token to be retrievable by lowercase key")
	}
	if tok.Status != types.TokenMonitoring {
		t.Fatalf("status = %s, want monitoring", tok.Status)
	}
}

func TestUpdatePriceNeverRegressesHighest(t *testing.T) {
	p := newTestPool()
	p.AddToken(AddTokenInput{
		Address: "0xAAA", Symbol: "FOO", Blockchain: "ethereum",
		CreatedAt: time.Now(), CurrentPrice: decimal.NewFromFloat(1.0),
	})

	t1 := time.Now()
	p.UpdatePrice("0xAAA", "ethereum", decimal.NewFromFloat(2.0), t1, PriceExtras{})
	tok := p.Get("0xAAA", "ethereum")
	if !tok.HighestPrice.Equal(decimal.NewFromFloat(2.0)) {
		t.Fatalf("highest = %s, want 2.0", tok.HighestPrice)
	}

	t2 := t1.Add(time.Minute)
	p.UpdatePrice("0xAAA", "ethereum", decimal.NewFromFloat(1.5), t2, PriceExtras{})
	tok = p.Get("0xAAA", "ethereum")
	if !tok.HighestPrice.Equal(decimal.NewFromFloat(2.0)) {
		t.Fatalf("highest regressed to %s, want still 2.0", tok.HighestPrice)
	}
	if !tok.CurrentPrice.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("current = %s, want 1.5", tok.CurrentPrice)
	}
	if !tok.HighestPriceAt.Equal(t1) {
		t.Fatalf("highestPriceAt = %v, want %v", tok.HighestPriceAt, t1)
	}
}

func TestMarkAsBoughtAndFullySold(t *testing.T) {
	p := newTestPool()
	p.AddToken(AddTokenInput{
		Address: "0xAAA", Symbol: "FOO", Blockchain: "ethereum",
		CreatedAt: time.Now(), CurrentPrice: decimal.NewFromFloat(1.0),
	})
	buyTime := time.Now()
	p.MarkAsBought("0xAAA", "ethereum", decimal.NewFromFloat(1.2), buyTime)

	tok := p.Get("0xAAA", "ethereum")
	if tok.Status != types.TokenBought {
		t.Fatalf("status = %s, want bought", tok.Status)
	}
	if !tok.BuyPrice.Equal(decimal.NewFromFloat(1.2)) {
		t.Fatalf("buyPrice = %s, want 1.2", tok.BuyPrice)
	}

	p.MarkFullySold("0xAAA", "ethereum")
	tok = p.Get("0xAAA", "ethereum")
	if tok.Status != types.TokenMonitoring {
		t.Fatalf("status = %s, want monitoring after full sell", tok.Status)
	}
}

func TestGetMonitoringTokensIncludesBought(t *testing.T) {
	p := newTestPool()
	p.AddToken(AddTokenInput{Address: "0xAAA", Symbol: "A", Blockchain: "ethereum", CreatedAt: time.Now(), CurrentPrice: decimal.NewFromFloat(1)})
	p.AddToken(AddTokenInput{Address: "0xBBB", Symbol: "B", Blockchain: "ethereum", CreatedAt: time.Now(), CurrentPrice: decimal.NewFromFloat(1)})
	p.MarkAsBought("0xAAA", "ethereum", decimal.NewFromFloat(1), time.Now())

	got := p.GetMonitoringTokens()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (monitoring + bought)", len(got))
	}
}

func TestRecordStrategyExecutionIncrements(t *testing.T) {
	p := newTestPool()
	p.AddToken(AddTokenInput{Address: "0xAAA", Symbol: "A", Blockchain: "ethereum", CreatedAt: time.Now(), CurrentPrice: decimal.NewFromFloat(1)})

	now := time.Now()
	p.RecordStrategyExecution("0xAAA", "ethereum", "strat-1", now)
	p.RecordStrategyExecution("0xAAA", "ethereum", "strat-1", now.Add(time.Minute))

	tok := p.Get("0xAAA", "ethereum")
	ctr := tok.StrategyExecutions["strat-1"]
	if ctr == nil || ctr.Count != 2 {
		t.Fatalf("counter = %+v, want count 2", ctr)
	}
}

func TestCleanupEvictsPastTTL(t *testing.T) {
	p := newTestPool()
	old := time.Now().Add(-48 * time.Hour)
	p.AddToken(AddTokenInput{Address: "0xAAA", Symbol: "A", Blockchain: "ethereum", CreatedAt: old, CurrentPrice: decimal.NewFromFloat(1)})
	// collectedAt is stamped internally to time.Now(), so force it old directly.
	p.tokens[CanonicalKey("0xAAA", "ethereum")].CollectedAt = old

	evicted := p.Cleanup(time.Now())
	if len(evicted) != 1 {
		t.Fatalf("evicted = %d, want 1", len(evicted))
	}
	if p.Len() != 0 {
		t.Fatalf("len = %d, want 0 after cleanup", p.Len())
	}
}

func TestCleanupInactiveTokensSkipsBought(t *testing.T) {
	p := newTestPool()
	old := time.Now().Add(-2 * time.Hour)
	p.AddToken(AddTokenInput{Address: "0xAAA", Symbol: "A", Blockchain: "ethereum", CreatedAt: old, CurrentPrice: decimal.NewFromFloat(1)})
	p.tokens[CanonicalKey("0xAAA", "ethereum")].CollectedAt = old
	p.MarkAsBought("0xAAA", "ethereum", decimal.NewFromFloat(1), time.Now())

	evicted := p.CleanupInactiveTokens(time.Now())
	if len(evicted) != 0 {
		t.Fatalf("evicted = %d, want 0 (bought tokens are not inactive-evicted)", len(evicted))
	}
}

func TestCardPositionManagerAccessors(t *testing.T) {
	p := newTestPool()
	p.AddToken(AddTokenInput{Address: "0xAAA", Symbol: "A", Blockchain: "ethereum", CreatedAt: time.Now(), CurrentPrice: decimal.NewFromFloat(1)})

	if mgr := p.GetCardPositionManager("0xAAA", "ethereum"); mgr != nil {
		t.Fatal("expected nil card manager before it is set")
	}
}
