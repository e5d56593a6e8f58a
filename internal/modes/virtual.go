// Package modes implements the three engine.ModeAdapter realizations:
// virtual (simulated), backtest (replay), and live (on-chain).
package modes

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/factors"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"go.uber.org/zap"
)

// DefaultTickInterval is the virtual/live main loop period (§4.7).
const DefaultTickInterval = 10 * time.Second

// VirtualAdapter simulates trading against PortfolioManager directly,
// with no external side effects. Holding sync is a no-op: Portfolio is
// ground truth in this mode (§4.7).
type VirtualAdapter struct {
	logger     *zap.Logger
	listing    external.TokenListingSource
	marketData external.MarketDataAPI
	cardConfig types.PositionManagementConfig
}

// NewVirtualAdapter constructs a VirtualAdapter.
func NewVirtualAdapter(logger *zap.Logger, listing external.TokenListingSource, marketData external.MarketDataAPI, cardConfig types.PositionManagementConfig) *VirtualAdapter {
	return &VirtualAdapter{logger: logger.Named("mode.virtual"), listing: listing, marketData: marketData, cardConfig: cardConfig}
}

func (v *VirtualAdapter) SyncHoldings(ctx context.Context, eng *engine.Engine) error { return nil }

func (v *VirtualAdapter) HarvestTokens(ctx context.Context) ([]external.ListedToken, error) {
	return v.listing.Harvest(ctx)
}

func (v *VirtualAdapter) RefreshPrices(ctx context.Context, keys []string) (map[string]external.PriceQuote, error) {
	return batchedPrices(ctx, v.marketData, keys)
}

func (v *VirtualAdapter) ExecuteBuy(ctx context.Context, eng *engine.Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error) {
	return simulatedBuy(eng, tokenKey, signal, cards, v.cardConfig, v.logger)
}

func (v *VirtualAdapter) ExecuteSell(ctx context.Context, eng *engine.Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error) {
	return simulatedSell(eng, tokenKey, signal, cards, v.cardConfig, v.logger)
}

func (v *VirtualAdapter) ShouldRecordTimeSeries() bool { return true }

func (v *VirtualAdapter) BuildFactors(builder *factors.Builder, tokenKey string, tok *types.Token, now time.Time) map[string]float64 {
	return builder.Build(tokenKey, tok, now)
}

// Run drives a periodic-tick mode adapter's (virtual or live) main loop
// until ctx is cancelled or eng.Stop is called, per §4.7.
func Run(ctx context.Context, logger *zap.Logger, eng *engine.Engine, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-eng.StopChan():
			logger.Info("mode: stop requested, loop exiting after in-flight round")
			return nil
		case <-ticker.C:
			if _, err := eng.RunRound(ctx); err != nil {
				logger.Error("mode: round failed", zap.Error(err))
			}
		}
	}
}
