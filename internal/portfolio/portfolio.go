// Package portfolio implements PortfolioManager (component C3): the
// per-experiment ledger of available balance and FIFO-costed positions.
package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInsufficientBalance is returned by ExecuteTrade when a buy's cost
// exceeds the available balance.
var ErrInsufficientBalance = errors.New("portfolio: insufficient available balance")

// ErrInsufficientHoldings is returned by ExecuteTrade when a sell's
// amount exceeds the position's total holding.
var ErrInsufficientHoldings = errors.New("portfolio: insufficient token holdings")

// Manager owns one Experiment's available balance and positions, using a
// FIFO lot queue per position for cost-basis accounting (§4.3, invariant 2/3/7).
type Manager struct {
	mu     sync.RWMutex
	logger *zap.Logger

	experimentID     string
	availableBalance decimal.Decimal
	positions        map[string]*types.Position
	totalInvested    decimal.Decimal
	totalPnL         decimal.Decimal
}

// New creates a Manager with the given starting balance.
func New(logger *zap.Logger, experimentID string, initialBalance decimal.Decimal) *Manager {
	return &Manager{
		logger:           logger.Named("portfolio"),
		experimentID:     experimentID,
		availableBalance: initialBalance,
		positions:        make(map[string]*types.Position),
	}
}

// ExecuteTrade applies a fill to the ledger: buy debits balance and
// appends a lot; sell consumes lots FIFO, credits balance, and realizes
// PnL. tokenKey should be tokenpool.CanonicalKey(address, blockchain) so
// the ledger and the token pool never split on casing.
func (m *Manager) ExecuteTrade(tokenKey string, direction types.TradeDirection, amount, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch direction {
	case types.DirectionBuy:
		return m.executeBuy(tokenKey, amount, price)
	case types.DirectionSell:
		return m.executeSell(tokenKey, amount, price)
	default:
		return fmt.Errorf("portfolio: unknown trade direction %q", direction)
	}
}

func (m *Manager) executeBuy(tokenKey string, amount, price decimal.Decimal) error {
	cost := amount.Mul(price)
	if cost.GreaterThan(m.availableBalance) {
		return fmt.Errorf("%w: cost %s exceeds balance %s", ErrInsufficientBalance, cost, m.availableBalance)
	}

	pos, ok := m.positions[tokenKey]
	if !ok {
		pos = &types.Position{Address: tokenKey}
		m.positions[tokenKey] = pos
	}
	m.rebuildIfAggregateOnly(pos)

	pos.Lots = append(pos.Lots, types.Lot{Amount: amount, Cost: cost})
	pos.TotalAmount = pos.TotalAmount.Add(amount)
	pos.AveragePurchasePrice = averagePrice(pos.Lots)
	pos.CurrentPrice = price
	pos.Value = pos.TotalAmount.Mul(price)

	m.availableBalance = m.availableBalance.Sub(cost)
	m.totalInvested = m.totalInvested.Add(cost)
	return nil
}

func (m *Manager) executeSell(tokenKey string, amount, price decimal.Decimal) error {
	pos, ok := m.positions[tokenKey]
	if !ok || pos.TotalAmount.LessThan(amount) {
		held := decimal.Zero
		if ok {
			held = pos.TotalAmount
		}
		return fmt.Errorf("%w: requested %s, held %s", ErrInsufficientHoldings, amount, held)
	}
	m.rebuildIfAggregateOnly(pos)

	proceeds := amount.Mul(price)
	costOfSold, remainingLots := consumeLotsFIFO(pos.Lots, amount)
	realized := proceeds.Sub(costOfSold)

	pos.Lots = remainingLots
	pos.TotalAmount = pos.TotalAmount.Sub(amount)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.CurrentPrice = price
	if pos.TotalAmount.IsZero() {
		pos.AveragePurchasePrice = decimal.Zero
		pos.Value = decimal.Zero
	} else {
		pos.AveragePurchasePrice = averagePrice(pos.Lots)
		pos.Value = pos.TotalAmount.Mul(price)
	}

	m.availableBalance = m.availableBalance.Add(proceeds)
	m.totalPnL = m.totalPnL.Add(realized)
	return nil
}

// consumeLotsFIFO removes `amount` token units from the front of lots,
// allowing partial consumption of the oldest lot, and returns the cost
// basis of everything consumed plus the remaining lot queue.
func consumeLotsFIFO(lots []types.Lot, amount decimal.Decimal) (decimal.Decimal, []types.Lot) {
	remaining := amount
	costOfSold := decimal.Zero
	i := 0
	for i < len(lots) && remaining.GreaterThan(decimal.Zero) {
		lot := lots[i]
		if lot.Amount.LessThanOrEqual(remaining) {
			costOfSold = costOfSold.Add(lot.Cost)
			remaining = remaining.Sub(lot.Amount)
			i++
			continue
		}
		// partial consumption of this lot
		unitCost := lot.Cost.Div(lot.Amount)
		consumedCost := unitCost.Mul(remaining)
		costOfSold = costOfSold.Add(consumedCost)
		lots[i] = types.Lot{
			Amount: lot.Amount.Sub(remaining),
			Cost:   lot.Cost.Sub(consumedCost),
		}
		remaining = decimal.Zero
	}
	return costOfSold, lots[i:]
}

func averagePrice(lots []types.Lot) decimal.Decimal {
	totalAmount := decimal.Zero
	totalCost := decimal.Zero
	for _, lot := range lots {
		totalAmount = totalAmount.Add(lot.Amount)
		totalCost = totalCost.Add(lot.Cost)
	}
	if totalAmount.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalAmount)
}

// UpdatePosition is the resync fast path used by live mode after a
// wallet-balance sync: it replaces TotalAmount/CurrentPrice directly
// without touching the lot queue, and marks the position AggregateOnly
// per Open Question (b). The lot queue is rebuilt lazily, from the
// declared average cost, the next time ExecuteTrade touches this
// position — a resync happens far more often than a trade, so eagerly
// rebuilding on every sync would be wasted work.
func (m *Manager) UpdatePosition(tokenKey string, totalAmount, averagePurchasePrice, currentPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[tokenKey]
	if !ok {
		pos = &types.Position{Address: tokenKey}
		m.positions[tokenKey] = pos
	}
	pos.TotalAmount = totalAmount
	pos.AveragePurchasePrice = averagePurchasePrice
	pos.CurrentPrice = currentPrice
	pos.Value = totalAmount.Mul(currentPrice)
	pos.AggregateOnly = true
	pos.Lots = nil
}

// rebuildIfAggregateOnly reconstructs a single synthetic lot from the
// declared aggregate cost basis so FIFO consumption has something to
// consume. Must be called with m.mu held.
func (m *Manager) rebuildIfAggregateOnly(pos *types.Position) {
	if !pos.AggregateOnly {
		return
	}
	if pos.TotalAmount.GreaterThan(decimal.Zero) {
		pos.Lots = []types.Lot{{
			Amount: pos.TotalAmount,
			Cost:   pos.TotalAmount.Mul(pos.AveragePurchasePrice),
		}}
	} else {
		pos.Lots = nil
	}
	pos.AggregateOnly = false
}

// GetPortfolio returns a point-in-time snapshot of the ledger.
func (m *Manager) GetPortfolio() *types.ExperimentPortfolio {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make(map[string]*types.Position, len(m.positions))
	totalValue := m.availableBalance
	for key, pos := range m.positions {
		posCopy := *pos
		posCopy.Lots = append([]types.Lot(nil), pos.Lots...)
		positions[key] = &posCopy
		totalValue = totalValue.Add(pos.Value)
	}

	return &types.ExperimentPortfolio{
		ExperimentID:     m.experimentID,
		AvailableBalance: m.availableBalance,
		Positions:        positions,
		TotalValue:       totalValue,
		TotalInvested:    m.totalInvested,
		TotalPnL:         m.totalPnL,
	}
}

// RefreshPrice updates a held position's mark price and value without
// touching lots or balance, used each round before evaluating sell
// strategies.
func (m *Manager) RefreshPrice(tokenKey string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[tokenKey]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	pos.Value = pos.TotalAmount.Mul(price)
}

// Snapshot builds a persistable PortfolioSnapshot at the given time.
func (m *Manager) Snapshot(at time.Time) types.PortfolioSnapshot {
	p := m.GetPortfolio()
	return types.PortfolioSnapshot{
		ExperimentID:     p.ExperimentID,
		Timestamp:        at,
		AvailableBalance: p.AvailableBalance,
		TotalValue:       p.TotalValue,
		TotalInvested:    p.TotalInvested,
		TotalPnL:         p.TotalPnL,
		PositionCount:    len(p.Positions),
	}
}

// HasPosition reports whether the ledger currently holds a non-zero
// amount of tokenKey — used by strategy evaluation to gate sell rules.
func (m *Manager) HasPosition(tokenKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[tokenKey]
	return ok && pos.TotalAmount.GreaterThan(decimal.Zero)
}
