// Package execution estimates slippage tolerance for live on-chain trades.
// Adapted from the teacher's CEX-oriented slippage model: order book depth
// and bid/ask spread inputs are not used here since bonding-curve and AMM
// swaps rarely expose either, but the volume/volatility/historical factors
// carry over directly.
package execution

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SlippageCalculator estimates a slippage tolerance for a trade from
// recent volume, volatility, and this token's own execution history.
type SlippageCalculator struct {
	logger *zap.Logger
	config SlippageConfig

	mu                 sync.RWMutex
	historicalSlippage map[string][]SlippageRecord
}

// SlippageConfig tunes the slippage estimate.
type SlippageConfig struct {
	BaseSlippage         decimal.Decimal // always applied, e.g. 0.005 = 0.5%
	VolumeImpactFactor   decimal.Decimal // impact per unit of volume ratio
	VolatilityMultiplier decimal.Decimal // multiplier applied to ATR-like volatility
	MaxSlippage          decimal.Decimal // hard cap, e.g. 0.15 = 15%
}

// SlippageRecord is one observed fill, used to adjust future estimates.
type SlippageRecord struct {
	TokenKey      string
	ExpectedPrice decimal.Decimal
	ActualPrice   decimal.Decimal
	Slippage      decimal.Decimal // as a fraction, always non-negative
	Timestamp     time.Time
}

// MarketData is the subset of token market state the estimate needs.
type MarketData struct {
	Price     decimal.Decimal
	Volume24h decimal.Decimal
	// PriceChange24h approximates volatility when no ATR series is tracked.
	PriceChange24h decimal.Decimal
}

// DefaultSlippageConfig matches bonding-curve/AMM trading on a freshly
// listed token: wider base tolerance than a liquid CEX pair, since thin
// early liquidity is the norm rather than the exception.
func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{
		BaseSlippage:         decimal.NewFromFloat(0.01),
		VolumeImpactFactor:   decimal.NewFromFloat(0.05),
		VolatilityMultiplier: decimal.NewFromFloat(0.5),
		MaxSlippage:          decimal.NewFromFloat(0.15),
	}
}

func NewSlippageCalculator(logger *zap.Logger, config SlippageConfig) *SlippageCalculator {
	return &SlippageCalculator{
		logger:             logger.Named("execution.slippage"),
		config:             config,
		historicalSlippage: make(map[string][]SlippageRecord),
	}
}

// EstimateTolerance returns the slippage tolerance to request for a trade
// of nativeAmount against a token with the given market state.
func (sc *SlippageCalculator) EstimateTolerance(tokenKey string, nativeAmount decimal.Decimal, market MarketData) decimal.Decimal {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	total := sc.config.BaseSlippage

	if !market.Volume24h.IsZero() {
		ratio := nativeAmount.Div(market.Volume24h)
		sqrtRatio := decimal.NewFromFloat(math.Sqrt(math.Abs(ratio.InexactFloat64())))
		total = total.Add(sc.config.VolumeImpactFactor.Mul(sqrtRatio))
	}

	if !market.PriceChange24h.IsZero() {
		total = total.Add(market.PriceChange24h.Abs().Mul(sc.config.VolatilityMultiplier))
	}

	if adj := sc.historicalAdjustment(tokenKey); !adj.IsZero() {
		total = total.Add(adj)
	}

	if total.GreaterThan(sc.config.MaxSlippage) {
		total = sc.config.MaxSlippage
	}
	if total.IsNegative() {
		total = sc.config.BaseSlippage
	}
	return total
}

func (sc *SlippageCalculator) historicalAdjustment(tokenKey string) decimal.Decimal {
	records := sc.historicalSlippage[tokenKey]
	if len(records) < 5 {
		return decimal.Zero
	}
	recent := records
	if len(recent) > 50 {
		recent = recent[len(recent)-50:]
	}
	sum := decimal.Zero
	for _, r := range recent {
		sum = sum.Add(r.Slippage)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(recent))))
	return avg.Sub(sc.config.BaseSlippage)
}

// RecordFill stores an observed fill's actual slippage for future estimates.
func (sc *SlippageCalculator) RecordFill(tokenKey string, expectedPrice, actualPrice decimal.Decimal) {
	if expectedPrice.IsZero() {
		return
	}
	slip := actualPrice.Sub(expectedPrice).Div(expectedPrice).Abs()

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.historicalSlippage[tokenKey] = append(sc.historicalSlippage[tokenKey], SlippageRecord{
		TokenKey: tokenKey, ExpectedPrice: expectedPrice, ActualPrice: actualPrice,
		Slippage: slip, Timestamp: time.Now(),
	})
	if len(sc.historicalSlippage[tokenKey]) > 500 {
		sc.historicalSlippage[tokenKey] = sc.historicalSlippage[tokenKey][250:]
	}
}
