package factors

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
)

func TestKeysIsClosedSet(t *testing.T) {
	keys := Keys()
	for _, want := range []string{"age", "earlyReturn", "drawdownFromHighest", "trendCV", "profitPercent"} {
		if _, ok := keys[want]; !ok {
			t.Fatalf("expected %q in factor key set", want)
		}
	}
}

func TestEarlyReturnFormula(t *testing.T) {
	b := New()
	now := time.Now()
	tok := &types.Token{
		CreatedAt:       now.Add(-10 * time.Minute),
		CollectionPrice: decimal.NewFromInt(1),
		CurrentPrice:    decimal.NewFromFloat(1.8),
		HighestPrice:    decimal.NewFromFloat(1.8),
	}
	f := b.Build("tok1", tok, now)
	if f["earlyReturn"] != 80 {
		t.Fatalf("earlyReturn = %v, want 80", f["earlyReturn"])
	}
}

func TestProfitPercentAndHoldDurationZeroUnlessBought(t *testing.T) {
	b := New()
	now := time.Now()
	tok := &types.Token{
		CreatedAt:       now.Add(-time.Hour),
		CollectionPrice: decimal.NewFromInt(1),
		CurrentPrice:    decimal.NewFromFloat(2),
		HighestPrice:    decimal.NewFromFloat(2),
	}
	f := b.Build("tok1", tok, now)
	if f["profitPercent"] != 0 || f["holdDuration"] != 0 {
		t.Fatalf("profitPercent=%v holdDuration=%v, want 0/0 when not bought", f["profitPercent"], f["holdDuration"])
	}
}

func TestDrawdownFromHighestClampedAndZeroAtHigh(t *testing.T) {
	b := New()
	now := time.Now()
	tok := &types.Token{
		CreatedAt:       now.Add(-time.Hour),
		CollectionPrice: decimal.NewFromInt(1),
		CurrentPrice:    decimal.NewFromFloat(2),
		HighestPrice:    decimal.NewFromFloat(2),
	}
	f := b.Build("tok1", tok, now)
	if f["drawdownFromHighest"] != 0 {
		t.Fatalf("drawdown = %v, want 0 at the high", f["drawdownFromHighest"])
	}

	tok.CurrentPrice = decimal.NewFromFloat(1.0)
	f = b.Build("tok1", tok, now)
	if f["drawdownFromHighest"] != -50 {
		t.Fatalf("drawdown = %v, want -50", f["drawdownFromHighest"])
	}
	if f["drawdownFromHighest"] < -100 {
		t.Fatal("drawdown must never exceed -100")
	}
}

func TestBuildFromRecordReturnsStoredFactorValues(t *testing.T) {
	rec := types.TimeSeriesRecord{FactorValues: map[string]float64{"earlyReturn": 42}}
	got := BuildFromRecord(rec)
	if got["earlyReturn"] != 42 {
		t.Fatalf("got %v, want 42", got["earlyReturn"])
	}
}
