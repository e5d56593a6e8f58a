// Package cardpos implements the discretized capital allocation manager
// (CardPositionManager, component C2) used per token to size buys/sells.
package cardpos

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Direction selects which side of a trade a card count applies to.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// defaultMinCardsForTrade is the default floor below which canTrade refuses.
const defaultMinCardsForTrade = 1

// Manager discretizes capital into totalCards indivisible "cards" per
// token, tracking how many sit on the native-currency side vs the
// token side. See SPEC_FULL.md §4.2.
type Manager struct {
	logger *zap.Logger

	totalCards        int
	perCardNative     decimal.Decimal
	nativeCards       int
	tokenCards        int
	minCardsForTrade  int
}

// Config configures a new Manager.
type Config struct {
	TotalCards       int
	PerCardNative    decimal.Decimal
	InitialNative    int
	InitialToken     int
	MinCardsForTrade int // 0 means defaultMinCardsForTrade
}

// New creates a Manager with the given initial allocation. It panics if
// totalCards is outside [2, 36] or the initial split does not sum to
// totalCards — both are caller bugs (construction happens once, from
// validated experiment config), not runtime conditions.
func New(logger *zap.Logger, cfg Config) *Manager {
	if cfg.TotalCards < 2 || cfg.TotalCards > 36 {
		panic(fmt.Sprintf("cardpos: totalCards %d out of range [2,36]", cfg.TotalCards))
	}
	if cfg.InitialNative+cfg.InitialToken != cfg.TotalCards {
		panic(fmt.Sprintf("cardpos: initial allocation %d+%d != totalCards %d",
			cfg.InitialNative, cfg.InitialToken, cfg.TotalCards))
	}
	min := cfg.MinCardsForTrade
	if min == 0 {
		min = defaultMinCardsForTrade
	}
	return &Manager{
		logger:           logger,
		totalCards:       cfg.TotalCards,
		perCardNative:    cfg.PerCardNative,
		nativeCards:      cfg.InitialNative,
		tokenCards:       cfg.InitialToken,
		minCardsForTrade: min,
	}
}

// DefaultAllNative returns a Manager with every card on the native side —
// the default allocation given to a newly discovered token in live mode.
func DefaultAllNative(logger *zap.Logger, totalCards int, perCardNative decimal.Decimal) *Manager {
	return New(logger, Config{
		TotalCards:    totalCards,
		PerCardNative: perCardNative,
		InitialNative: totalCards,
		InitialToken:  0,
	})
}

// TotalCards returns the fixed card count.
func (m *Manager) TotalCards() int { return m.totalCards }

// NativeCards returns the number of cards currently on the native side.
func (m *Manager) NativeCards() int { return m.nativeCards }

// TokenCards returns the number of cards currently on the token side.
func (m *Manager) TokenCards() int { return m.tokenCards }

// PerCardNative returns the configured native value of a single card.
func (m *Manager) PerCardNative() decimal.Decimal { return m.perCardNative }

// CanTrade reports whether the relevant card count meets the minimum
// required to place a trade in the given direction.
func (m *Manager) CanTrade(dir Direction) bool {
	switch dir {
	case DirectionBuy:
		return m.nativeCards >= m.minCardsForTrade
	case DirectionSell:
		return m.tokenCards >= m.minCardsForTrade
	default:
		return false
	}
}

// CalculateBuyAmount returns the native amount to spend buying `cards`
// cards, clamped to the native cards actually available. Returns zero
// (and logs a warning) if there are no native cards at all.
func (m *Manager) CalculateBuyAmount(cards int) decimal.Decimal {
	if m.nativeCards <= 0 {
		m.logger.Warn("cardpos: no native cards available for buy")
		return decimal.Zero
	}
	use := cards
	if use > m.nativeCards {
		use = m.nativeCards
	}
	return m.perCardNative.Mul(decimal.NewFromInt(int64(use)))
}

// CalculateSellAmount returns the token amount to sell given the current
// token balance and either a specific card count or "all". Arithmetic is
// performed entirely in decimal to avoid float drift in the
// tokenBalance ÷ tokenCards × cards computation.
func (m *Manager) CalculateSellAmount(tokenBalance decimal.Decimal, cards int, all bool) decimal.Decimal {
	if all {
		return tokenBalance
	}
	if m.tokenCards <= 0 {
		m.logger.Warn("cardpos: no token cards available for sell")
		return decimal.Zero
	}
	use := cards
	if use > m.tokenCards {
		use = m.tokenCards
	}
	return tokenBalance.Mul(decimal.NewFromInt(int64(use))).Div(decimal.NewFromInt(int64(m.tokenCards)))
}

// AfterBuy transfers `cards` cards from the native side to the token
// side. If cards exceeds what's available on the native side, the
// transfer clamps to what's available and logs a warning.
func (m *Manager) AfterBuy(cards int) {
	use := m.clamp(cards, m.nativeCards, "buy")
	m.nativeCards -= use
	m.tokenCards += use
}

// AfterSell transfers cards (or all of them) from the token side back
// to the native side.
func (m *Manager) AfterSell(cards int, all bool) {
	use := cards
	if all {
		use = m.tokenCards
	}
	use = m.clamp(use, m.tokenCards, "sell")
	m.tokenCards -= use
	m.nativeCards += use
}

func (m *Manager) clamp(requested, available int, op string) int {
	if requested > available {
		m.logger.Warn("cardpos: clamping card transfer to available cards",
			zap.String("op", op),
			zap.Int("requested", requested),
			zap.Int("available", available),
		)
		return available
	}
	if requested < 0 {
		return 0
	}
	return requested
}

// SetInitialAllocation reconfigures the native/token split at runtime.
// It rejects splits that do not sum to totalCards.
func (m *Manager) SetInitialAllocation(native, token int) error {
	if native+token != m.totalCards {
		return fmt.Errorf("cardpos: allocation %d+%d does not sum to totalCards %d", native, token, m.totalCards)
	}
	if native < 0 || token < 0 {
		return fmt.Errorf("cardpos: allocation must be non-negative, got native=%d token=%d", native, token)
	}
	m.nativeCards = native
	m.tokenCards = token
	return nil
}

// CheckInvariant reports whether nativeCards+tokenCards == totalCards and
// both are non-negative (testable property §8.1).
func (m *Manager) CheckInvariant() bool {
	return m.nativeCards >= 0 && m.tokenCards >= 0 && m.nativeCards+m.tokenCards == m.totalCards
}
