package cardpos

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(zap.NewNop(), Config{
		TotalCards:    4,
		PerCardNative: decimal.NewFromFloat(0.025),
		InitialNative: 4,
		InitialToken:  0,
	})
}

// S1 from spec.md §8: totalCards=4, perCardNative=0.025, buy 1 card, buy 1
// more card, then sell all. Card counts must follow 4/0 -> 3/1 -> 2/2 -> 4/0.
func TestCardAccountingUnderFIFOScenario(t *testing.T) {
	m := newTestManager(t)

	if got := m.CalculateBuyAmount(1); !got.Equal(decimal.NewFromFloat(0.025)) {
		t.Fatalf("buy amount = %s, want 0.025", got)
	}
	m.AfterBuy(1)
	if m.NativeCards() != 3 || m.TokenCards() != 1 {
		t.Fatalf("after first buy: native=%d token=%d, want 3/1", m.NativeCards(), m.TokenCards())
	}
	if !m.CheckInvariant() {
		t.Fatal("invariant broken after first buy")
	}

	m.AfterBuy(1)
	if m.NativeCards() != 2 || m.TokenCards() != 2 {
		t.Fatalf("after second buy: native=%d token=%d, want 2/2", m.NativeCards(), m.TokenCards())
	}
	if !m.CheckInvariant() {
		t.Fatal("invariant broken after second buy")
	}

	m.AfterSell(0, true)
	if m.NativeCards() != 4 || m.TokenCards() != 0 {
		t.Fatalf("after sell all: native=%d token=%d, want 4/0", m.NativeCards(), m.TokenCards())
	}
	if !m.CheckInvariant() {
		t.Fatal("invariant broken after sell all")
	}
}

// S10 from spec.md §8: a "sell all" followed by a buy leaves tokenCards ==
// buyCards and nativeCards == totalCards - buyCards.
func TestSellAllThenBuyLeavesCleanSplit(t *testing.T) {
	m := newTestManager(t)
	m.AfterBuy(3)
	m.AfterSell(0, true)
	m.AfterBuy(2)

	if m.TokenCards() != 2 {
		t.Fatalf("tokenCards = %d, want 2", m.TokenCards())
	}
	if m.NativeCards() != m.TotalCards()-2 {
		t.Fatalf("nativeCards = %d, want %d", m.NativeCards(), m.TotalCards()-2)
	}
}

func TestAfterBuyClampsToAvailableCards(t *testing.T) {
	m := newTestManager(t)
	m.AfterBuy(100)
	if m.NativeCards() != 0 || m.TokenCards() != 4 {
		t.Fatalf("native=%d token=%d, want 0/4 after clamped buy", m.NativeCards(), m.TokenCards())
	}
	if !m.CheckInvariant() {
		t.Fatal("invariant broken after clamped buy")
	}
}

func TestCalculateBuyAmountZeroWhenNoNativeCards(t *testing.T) {
	m := New(zap.NewNop(), Config{
		TotalCards:    4,
		PerCardNative: decimal.NewFromFloat(0.025),
		InitialNative: 0,
		InitialToken:  4,
	})
	if got := m.CalculateBuyAmount(1); !got.IsZero() {
		t.Fatalf("buy amount = %s, want 0", got)
	}
}

func TestCalculateSellAmountProportional(t *testing.T) {
	m := New(zap.NewNop(), Config{
		TotalCards:    4,
		PerCardNative: decimal.NewFromFloat(0.025),
		InitialNative: 0,
		InitialToken:  4,
	})
	balance := decimal.NewFromInt(1000)
	got := m.CalculateSellAmount(balance, 2, false)
	want := decimal.NewFromInt(500)
	if !got.Equal(want) {
		t.Fatalf("sell amount = %s, want %s", got, want)
	}
}

func TestSetInitialAllocationRejectsBadSplit(t *testing.T) {
	m := newTestManager(t)
	if err := m.SetInitialAllocation(1, 1); err == nil {
		t.Fatal("expected error for split not summing to totalCards")
	}
	if err := m.SetInitialAllocation(1, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.NativeCards() != 1 || m.TokenCards() != 3 {
		t.Fatalf("native=%d token=%d after reallocation, want 1/3", m.NativeCards(), m.TokenCards())
	}
}

func TestCanTrade(t *testing.T) {
	m := New(zap.NewNop(), Config{
		TotalCards:    4,
		PerCardNative: decimal.NewFromFloat(0.025),
		InitialNative: 0,
		InitialToken:  4,
	})
	if m.CanTrade(DirectionBuy) {
		t.Fatal("should not be able to buy with zero native cards")
	}
	if !m.CanTrade(DirectionSell) {
		t.Fatal("should be able to sell with token cards available")
	}
}
