package modes

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/cardpos"
	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/execution"
	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/factors"
	"github.com/atlas-desktop/trading-backend/internal/tokenpool"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// defaultReserveNative is the floor of native currency LiveAdapter will
// never spend below (§6 ExperimentConfig.ReserveNative default).
var defaultReserveNative = decimal.NewFromFloat(0.1)

// LiveAdapter dispatches real on-chain trades. Holding sync pulls wallet
// balances every round and rebuilds Portfolio from them while preserving
// each token's CardPositionManager; buys are refused pre-flight for
// denylisted creators or when the native reserve would be breached, and
// a saturated-bonding-curve failure on the primary trader falls back to
// the secondary (§4.7, §7).
type LiveAdapter struct {
	logger *zap.Logger

	listing    external.TokenListingSource
	marketData external.MarketDataAPI
	wallet     external.WalletInfoAPI
	denylist   external.DenylistService
	primary    external.Trader
	secondary  external.Trader // may be nil: no fallback configured

	walletAddress    string
	walletBlockchain string
	cardConfig       types.PositionManagementConfig
	reserveNative    decimal.Decimal
	tradeOpts        external.TradeOptions
	slippage         *execution.SlippageCalculator
}

// Config configures a LiveAdapter.
type LiveConfig struct {
	Listing          external.TokenListingSource
	MarketData       external.MarketDataAPI
	Wallet           external.WalletInfoAPI
	Denylist         external.DenylistService
	Primary          external.Trader
	Secondary        external.Trader
	WalletAddress    string
	WalletBlockchain string
	CardConfig       types.PositionManagementConfig
	ReserveNative    decimal.Decimal
	TradeOptions     external.TradeOptions
}

// NewLiveAdapter constructs a LiveAdapter.
func NewLiveAdapter(logger *zap.Logger, cfg LiveConfig) *LiveAdapter {
	reserve := cfg.ReserveNative
	if reserve.IsZero() {
		reserve = defaultReserveNative
	}
	return &LiveAdapter{
		logger:           logger.Named("mode.live"),
		listing:          cfg.Listing,
		marketData:       cfg.MarketData,
		wallet:           cfg.Wallet,
		denylist:         cfg.Denylist,
		primary:          cfg.Primary,
		secondary:        cfg.Secondary,
		walletAddress:    cfg.WalletAddress,
		walletBlockchain: cfg.WalletBlockchain,
		cardConfig:       cfg.CardConfig,
		reserveNative:    reserve,
		tradeOpts:        cfg.TradeOptions,
		slippage:         execution.NewSlippageCalculator(logger, execution.DefaultSlippageConfig()),
	}
}

// tradeOptionsFor narrows tradeOpts.SlippageTolerance to the calculator's
// estimate when the experiment didn't pin an explicit tolerance, so thin
// early liquidity gets a wider budget than a token with deep volume.
func (l *LiveAdapter) tradeOptionsFor(eng *engine.Engine, address, blockchain string, nativeAmount decimal.Decimal) external.TradeOptions {
	opts := l.tradeOpts
	if !opts.SlippageTolerance.IsZero() {
		return opts
	}
	market := execution.MarketData{}
	if tok := eng.Pool.Get(address, blockchain); tok != nil {
		market.Price = tok.CurrentPrice
		market.Volume24h = tok.Metrics.Volume24h
		if !tok.CollectionPrice.IsZero() {
			market.PriceChange24h = tok.CurrentPrice.Sub(tok.CollectionPrice).Div(tok.CollectionPrice)
		}
	}
	key := tokenpool.CanonicalKey(address, blockchain)
	opts.SlippageTolerance = l.slippage.EstimateTolerance(key, nativeAmount, market)
	return opts
}

// SyncHoldings rebuilds Portfolio positions from the wallet's actual
// on-chain balances. A token already tracked keeps its existing
// CardPositionManager; a token discovered here for the first time gets
// the default all-native allocation, same as any other newly seen token.
func (l *LiveAdapter) SyncHoldings(ctx context.Context, eng *engine.Engine) error {
	balances, err := l.wallet.GetWalletBalances(ctx, l.walletAddress, l.walletBlockchain)
	if err != nil {
		return fmt.Errorf("live: wallet balance lookup failed: %w", err)
	}
	now := time.Now()
	for _, bal := range balances {
		if bal.Balance.IsZero() {
			continue
		}
		key := tokenpool.CanonicalKey(bal.TokenAddress, l.walletBlockchain)
		eng.Pool.AddToken(tokenpool.AddTokenInput{
			Address: bal.TokenAddress, Symbol: bal.Symbol, Blockchain: l.walletBlockchain,
			CreatedAt: now, CurrentPrice: bal.AveragePurchasePrice,
		})
		eng.Pool.MarkAsBought(bal.TokenAddress, l.walletBlockchain, bal.AveragePurchasePrice, now)
		eng.Portfolio.UpdatePosition(key, bal.Balance, bal.AveragePurchasePrice, bal.AveragePurchasePrice)

		if eng.Pool.GetCardPositionManager(bal.TokenAddress, l.walletBlockchain) == nil {
			mgr := cardpos.DefaultAllNative(l.logger, l.cardConfig.TotalCards, l.cardConfig.PerCardNative)
			eng.Pool.SetCardPositionManager(bal.TokenAddress, l.walletBlockchain, mgr)
		}
	}
	return nil
}

func (l *LiveAdapter) HarvestTokens(ctx context.Context) ([]external.ListedToken, error) {
	return l.listing.Harvest(ctx)
}

func (l *LiveAdapter) RefreshPrices(ctx context.Context, keys []string) (map[string]external.PriceQuote, error) {
	return batchedPrices(ctx, l.marketData, keys)
}

// ExecuteBuy enforces the denylist and native-reserve checks before
// dispatching to the primary trader, falling back to the secondary on a
// saturated bonding curve. Portfolio/CardPositionManager are updated
// from the trader's ACTUAL output, never the signal's intended price.
func (l *LiveAdapter) ExecuteBuy(ctx context.Context, eng *engine.Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error) {
	address, blockchain := splitKey(tokenKey)

	if l.denylist != nil {
		tok := eng.Pool.Get(address, blockchain)
		creator := ""
		if tok != nil {
			creator = tok.CreatorAddress
		}
		if creator != "" {
			denied, err := l.denylist.IsDenylistedWallet(ctx, creator)
			if err != nil {
				return external.TradeResult{}, fmt.Errorf("live: %w: %v", engine.ErrDenylistedCreator, err)
			}
			if denied {
				// Refused pre-flight: does not consume the strategy's cooldown (§4.7).
				return external.TradeResult{Success: false, Reason: "creator is denylisted"}, nil
			}
		}
	}

	mgr := cardManagerFor(eng, address, blockchain, l.cardConfig, l.logger)
	if !mgr.CanTrade(cardpos.DirectionBuy) {
		return external.TradeResult{Success: false, Reason: "no native cards available"}, nil
	}
	nativeAmount := mgr.CalculateBuyAmount(cards)
	if nativeAmount.IsZero() {
		return external.TradeResult{Success: false, Reason: "calculated buy amount is zero"}, nil
	}

	if available := eng.Portfolio.GetPortfolio().AvailableBalance; available.Sub(nativeAmount).LessThan(l.reserveNative) {
		return external.TradeResult{Success: false, Reason: "buy would breach native reserve"}, nil
	}

	opts := l.tradeOptionsFor(eng, address, blockchain, nativeAmount)
	result, err := l.dispatchBuy(ctx, address, nativeAmount, opts)
	if err != nil || !result.Success {
		return result, err
	}

	actualPrice := signal.Price
	if !result.ActualAmountOut.IsZero() {
		actualPrice = nativeAmount.Div(result.ActualAmountOut)
	}
	l.slippage.RecordFill(tokenKey, signal.Price, actualPrice)
	if err := eng.Portfolio.ExecuteTrade(tokenKey, types.DirectionBuy, result.ActualAmountOut, actualPrice); err != nil {
		return external.TradeResult{Success: false, Reason: err.Error()}, nil
	}
	mgr.AfterBuy(cards)
	return result, nil
}

func (l *LiveAdapter) dispatchBuy(ctx context.Context, address string, nativeAmount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	result, err := l.primary.BuyToken(ctx, address, nativeAmount, opts)
	if err != nil {
		return external.TradeResult{}, fmt.Errorf("live: %w: %v", engine.ErrTradeExecution, err)
	}
	if !result.Success && result.ErrorCode == external.ErrCodeSaturatedBondingCurve && l.secondary != nil {
		l.logger.Warn("live: primary trader saturated, falling back to secondary",
			zap.String("trader", l.primary.Name()))
		result, err = l.secondary.BuyToken(ctx, address, nativeAmount, opts)
		if err != nil {
			return external.TradeResult{}, fmt.Errorf("live: %w: %v", engine.ErrTradeExecution, err)
		}
	}
	return result, nil
}

// ExecuteSell dispatches to the primary trader with secondary fallback
// on a saturated bonding curve, then updates Portfolio/CardPositionManager
// from the trader's actual output.
func (l *LiveAdapter) ExecuteSell(ctx context.Context, eng *engine.Engine, tokenKey string, signal types.TradeSignal, cards int) (external.TradeResult, error) {
	address, blockchain := splitKey(tokenKey)
	mgr := cardManagerFor(eng, address, blockchain, l.cardConfig, l.logger)
	if !mgr.CanTrade(cardpos.DirectionSell) {
		return external.TradeResult{Success: false, Reason: "no token cards available"}, nil
	}
	pos, ok := eng.Portfolio.GetPortfolio().Positions[tokenKey]
	if !ok {
		return external.TradeResult{Success: false, Reason: "no position to sell"}, nil
	}
	sellAll := cards >= mgr.TokenCards()
	tokenAmount := mgr.CalculateSellAmount(pos.TotalAmount, cards, sellAll)
	if tokenAmount.IsZero() {
		return external.TradeResult{Success: false, Reason: "calculated sell amount is zero"}, nil
	}

	opts := l.tradeOptionsFor(eng, address, blockchain, tokenAmount.Mul(signal.Price))
	result, err := l.dispatchSell(ctx, address, tokenAmount, opts)
	if err != nil || !result.Success {
		return result, err
	}

	actualPrice := signal.Price
	if !tokenAmount.IsZero() {
		actualPrice = result.ActualAmountOut.Div(tokenAmount)
	}
	l.slippage.RecordFill(tokenKey, signal.Price, actualPrice)
	if err := eng.Portfolio.ExecuteTrade(tokenKey, types.DirectionSell, tokenAmount, actualPrice); err != nil {
		return external.TradeResult{Success: false, Reason: err.Error()}, nil
	}
	mgr.AfterSell(cards, sellAll)
	return result, nil
}

func (l *LiveAdapter) dispatchSell(ctx context.Context, address string, tokenAmount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	result, err := l.primary.SellToken(ctx, address, tokenAmount, opts)
	if err != nil {
		return external.TradeResult{}, fmt.Errorf("live: %w: %v", engine.ErrTradeExecution, err)
	}
	if !result.Success && result.ErrorCode == external.ErrCodeSaturatedBondingCurve && l.secondary != nil {
		l.logger.Warn("live: primary trader saturated, falling back to secondary",
			zap.String("trader", l.primary.Name()))
		result, err = l.secondary.SellToken(ctx, address, tokenAmount, opts)
		if err != nil {
			return external.TradeResult{}, fmt.Errorf("live: %w: %v", engine.ErrTradeExecution, err)
		}
	}
	return result, nil
}

func (l *LiveAdapter) ShouldRecordTimeSeries() bool { return true }

func (l *LiveAdapter) BuildFactors(builder *factors.Builder, tokenKey string, tok *types.Token, now time.Time) map[string]float64 {
	return builder.Build(tokenKey, tok, now)
}
