// Package tokenpool implements the set of monitored tokens and their
// mutable state (TokenPool, component C1).
package tokenpool

import (
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/cardpos"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CanonicalKey normalizes an (address, blockchain) pair into the pool's
// key form. EVM addresses are lowercased; Solana (Base58) addresses are
// case-significant and are preserved verbatim. This helper is shared by
// TokenPool, the portfolio manager, and the external API adapters so a
// single casing decision can never cause a split key (§9 "Address keying").
func CanonicalKey(address, blockchain string) string {
	return CanonicalAddress(address, blockchain) + "|" + strings.ToLower(blockchain)
}

// CanonicalAddress normalizes just the address portion per blockchain.
func CanonicalAddress(address, blockchain string) string {
	if isEVMChain(blockchain) {
		return strings.ToLower(address)
	}
	return address
}

func isEVMChain(blockchain string) bool {
	switch strings.ToLower(blockchain) {
	case "solana", "sol":
		return false
	default:
		return true
	}
}

// PriceExtras carries the market metrics that accompany a price update.
type PriceExtras struct {
	Volume24h decimal.Decimal
	Holders   int
	TVL       decimal.Decimal
	FDV       decimal.Decimal
	MarketCap decimal.Decimal
}

// Pool is the set of observed tokens with per-token state, price
// history, card manager, and strategy-execution counts.
type Pool struct {
	mu     sync.RWMutex
	logger *zap.Logger

	tokens       map[string]*types.Token
	cardManagers map[string]*cardpos.Manager

	// tokenTTL is the maximum time a token may remain in the pool before
	// Cleanup evicts it regardless of status.
	tokenTTL time.Duration
	// inactiveAfter is the maximum time a monitoring token may sit
	// without generating a buy before CleanupInactiveTokens evicts it.
	inactiveAfter time.Duration
}

// Config configures pool eviction thresholds.
type Config struct {
	TokenTTL      time.Duration
	InactiveAfter time.Duration
}

// New creates an empty Pool.
func New(logger *zap.Logger, cfg Config) *Pool {
	return &Pool{
		logger:        logger,
		tokens:        make(map[string]*types.Token),
		cardManagers:  make(map[string]*cardpos.Manager),
		tokenTTL:      cfg.TokenTTL,
		inactiveAfter: cfg.InactiveAfter,
	}
}

// AddTokenInput describes a newly observed token.
type AddTokenInput struct {
	Address      string
	Symbol       string
	Blockchain   string
	CreatedAt    time.Time
	CurrentPrice decimal.Decimal
}

// AddToken idempotently inserts a token. A second call for the same
// (address, blockchain) is ignored.
func (p *Pool) AddToken(in AddTokenInput) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := CanonicalKey(in.Address, in.Blockchain)
	if _, exists := p.tokens[key]; exists {
		return
	}

	now := time.Now()
	p.tokens[key] = &types.Token{
		Address:            CanonicalAddress(in.Address, in.Blockchain),
		Blockchain:         in.Blockchain,
		Symbol:             in.Symbol,
		CreatedAt:          in.CreatedAt,
		CollectedAt:        now,
		CollectionPrice:    in.CurrentPrice,
		CurrentPrice:       in.CurrentPrice,
		HighestPrice:       in.CurrentPrice,
		HighestPriceAt:     now,
		Status:             types.TokenMonitoring,
		StrategyExecutions: make(map[string]*types.StrategyExecutionCounter),
	}
}

// UpdatePrice updates the current price and market metrics for a token,
// advancing the high-water mark if price exceeds it. highestPrice never
// regresses.
func (p *Pool) UpdatePrice(address, blockchain string, price decimal.Decimal, ts time.Time, extras PriceExtras) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, ok := p.tokens[CanonicalKey(address, blockchain)]
	if !ok {
		return
	}
	tok.CurrentPrice = price
	tok.Metrics = types.TokenMarketMetrics{
		Volume24h: extras.Volume24h,
		Holders:   extras.Holders,
		TVL:       extras.TVL,
		FDV:       extras.FDV,
		MarketCap: extras.MarketCap,
	}
	if price.GreaterThan(tok.HighestPrice) {
		tok.HighestPrice = price
		tok.HighestPriceAt = ts
	}
}

// MarkAsBought transitions a token monitoring -> bought and records the
// buy price/time.
func (p *Pool) MarkAsBought(address, blockchain string, buyPrice decimal.Decimal, buyTime time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, ok := p.tokens[CanonicalKey(address, blockchain)]
	if !ok {
		return
	}
	tok.Status = types.TokenBought
	tok.BuyPrice = buyPrice
	tok.BuyTime = buyTime
}

// MarkFullySold transitions a token bought -> monitoring. Per §9 Open
// Question (a), only a strict zero remaining holding triggers this; a
// partial sell leaves the token `bought`.
func (p *Pool) MarkFullySold(address, blockchain string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, ok := p.tokens[CanonicalKey(address, blockchain)]
	if !ok {
		return
	}
	tok.Status = types.TokenMonitoring
	tok.BuyPrice = decimal.Zero
}

// RecordStrategyExecution increments the per-strategy execution counter
// and stamps the last-execution time. Callers invoke this only after the
// actual order dispatch has succeeded (§4.4).
func (p *Pool) RecordStrategyExecution(address, blockchain, strategyID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, ok := p.tokens[CanonicalKey(address, blockchain)]
	if !ok {
		return
	}
	ctr, ok := tok.StrategyExecutions[strategyID]
	if !ok {
		ctr = &types.StrategyExecutionCounter{}
		tok.StrategyExecutions[strategyID] = ctr
	}
	ctr.Count++
	ctr.LastExecutionAt = at
}

// Get returns a copy-free pointer to the token's current state, or nil.
func (p *Pool) Get(address, blockchain string) *types.Token {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tokens[CanonicalKey(address, blockchain)]
}

// GetMonitoringTokens returns all tokens whose status is monitoring or
// bought (bought tokens are still observed for sell-side evaluation).
func (p *Pool) GetMonitoringTokens() []*types.Token {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*types.Token, 0, len(p.tokens))
	for _, tok := range p.tokens {
		if tok.Status == types.TokenMonitoring || tok.Status == types.TokenBought {
			out = append(out, tok)
		}
	}
	return out
}

// Cleanup removes tokens that have been pooled longer than tokenTTL,
// regardless of status.
func (p *Pool) Cleanup(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []string
	for key, tok := range p.tokens {
		if p.tokenTTL > 0 && now.Sub(tok.CollectedAt) > p.tokenTTL {
			evicted = append(evicted, key)
			tok.Status = types.TokenInactive
			delete(p.tokens, key)
			delete(p.cardManagers, key)
		}
	}
	return evicted
}

// CleanupInactiveTokens evicts monitoring tokens that have sat in the
// pool longer than inactiveAfter without generating a buy, measuring
// time in the pool from CollectedAt to now.
func (p *Pool) CleanupInactiveTokens(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []string
	for key, tok := range p.tokens {
		if tok.Status != types.TokenMonitoring {
			continue
		}
		if p.inactiveAfter > 0 && now.Sub(tok.CollectedAt) > p.inactiveAfter {
			evicted = append(evicted, key)
			tok.Status = types.TokenInactive
			delete(p.tokens, key)
			delete(p.cardManagers, key)
		}
	}
	return evicted
}

// GetCardPositionManager returns the card manager for a token, or nil.
func (p *Pool) GetCardPositionManager(address, blockchain string) *cardpos.Manager {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cardManagers[CanonicalKey(address, blockchain)]
}

// SetCardPositionManager attaches/replaces the card manager for a token.
func (p *Pool) SetCardPositionManager(address, blockchain string, mgr *cardpos.Manager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cardManagers[CanonicalKey(address, blockchain)] = mgr
}

// Len returns the number of tokens currently tracked (monitoring + bought
// + any not yet evicted). Mainly for tests/metrics.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tokens)
}
