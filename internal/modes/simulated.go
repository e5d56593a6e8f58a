package modes

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/trading-backend/internal/cardpos"
	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
	"go.uber.org/zap"
)

// priceBatchSize is the market-data API's documented batch limit (§6).
const priceBatchSize = 200

// simulatedBuy and simulatedSell implement the "execute directly
// against PortfolioManager, no external side effect" contract shared
// by virtual and backtest modes (§4.7). Live mode does not use these —
// it dispatches to a real external.Trader first and only then touches
// Portfolio/CardPositionManager with the trader's actual fill.
func simulatedBuy(eng *engine.Engine, tokenKey string, signal types.TradeSignal, cards int, cardConfig types.PositionManagementConfig, logger *zap.Logger) (external.TradeResult, error) {
	address, blockchain := splitKey(tokenKey)
	mgr := cardManagerFor(eng, address, blockchain, cardConfig, logger)
	if !mgr.CanTrade(cardpos.DirectionBuy) {
		return external.TradeResult{Success: false, Reason: "no native cards available"}, nil
	}
	amount := mgr.CalculateBuyAmount(cards)
	if amount.IsZero() {
		return external.TradeResult{Success: false, Reason: "calculated buy amount is zero"}, nil
	}
	tokenAmount := amount.Div(signal.Price)
	if err := eng.Portfolio.ExecuteTrade(tokenKey, types.DirectionBuy, tokenAmount, signal.Price); err != nil {
		return external.TradeResult{Success: false, Reason: err.Error()}, nil
	}
	mgr.AfterBuy(cards)
	return external.TradeResult{Success: true, ActualAmountOut: tokenAmount}, nil
}

func simulatedSell(eng *engine.Engine, tokenKey string, signal types.TradeSignal, cards int, cardConfig types.PositionManagementConfig, logger *zap.Logger) (external.TradeResult, error) {
	address, blockchain := splitKey(tokenKey)
	mgr := cardManagerFor(eng, address, blockchain, cardConfig, logger)
	if !mgr.CanTrade(cardpos.DirectionSell) {
		return external.TradeResult{Success: false, Reason: "no token cards available"}, nil
	}
	portfolio := eng.Portfolio.GetPortfolio()
	pos, ok := portfolio.Positions[tokenKey]
	if !ok {
		return external.TradeResult{Success: false, Reason: "no position to sell"}, nil
	}
	sellAll := cards >= mgr.TokenCards()
	tokenAmount := mgr.CalculateSellAmount(pos.TotalAmount, cards, sellAll)
	if tokenAmount.IsZero() {
		return external.TradeResult{Success: false, Reason: "calculated sell amount is zero"}, nil
	}
	if err := eng.Portfolio.ExecuteTrade(tokenKey, types.DirectionSell, tokenAmount, signal.Price); err != nil {
		return external.TradeResult{Success: false, Reason: err.Error()}, nil
	}
	mgr.AfterSell(cards, sellAll)
	return external.TradeResult{Success: true, ActualAmountOut: tokenAmount.Mul(signal.Price)}, nil
}

// cardManagerFor returns the token's card manager, lazily creating one
// from cfg's defaults on first use (a newly discovered token has no
// manager yet; §4.2).
func cardManagerFor(eng *engine.Engine, address, blockchain string, cfg types.PositionManagementConfig, logger *zap.Logger) *cardpos.Manager {
	if mgr := eng.Pool.GetCardPositionManager(address, blockchain); mgr != nil {
		return mgr
	}
	mgr := cardpos.New(logger, cardpos.Config{
		TotalCards:    cfg.TotalCards,
		PerCardNative: cfg.PerCardNative,
		InitialNative: cfg.InitialAllocation.NativeCards,
		InitialToken:  cfg.InitialAllocation.TokenCards,
	})
	eng.Pool.SetCardPositionManager(address, blockchain, mgr)
	return mgr
}

// batchedPrices chunks keys into groups of at most priceBatchSize and
// merges the responses, per §6's "up to 200 ids per call" contract.
func batchedPrices(ctx context.Context, api external.MarketDataAPI, keys []string) (map[string]external.PriceQuote, error) {
	out := make(map[string]external.PriceQuote, len(keys))
	retryCfg := utils.DefaultRetryConfig()
	for i := 0; i < len(keys); i += priceBatchSize {
		end := i + priceBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[i:end]
		ids := make([]string, len(chunk))
		for j, key := range chunk {
			addr, chain := splitKey(key)
			ids[j] = external.MarketDataID(addr, chain)
		}
		quotes, err := utils.Retry(retryCfg, func() (map[string]external.PriceQuote, error) {
			return api.GetPrices(ctx, ids)
		})
		if err != nil {
			return out, fmt.Errorf("modes: batched price fetch failed: %w", err)
		}
		for j, key := range chunk {
			if q, ok := quotes[ids[j]]; ok {
				out[key] = q
			}
		}
	}
	return out, nil
}

// splitKey reverses tokenpool.CanonicalKey's "{address}|{blockchain}" format.
func splitKey(key string) (address, blockchain string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
