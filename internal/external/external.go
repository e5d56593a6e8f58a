// Package external declares the narrow collaborator interfaces the
// engine depends on (§6): token listing, market data, wallet balances,
// on-chain trading, persistence, and the denylist service. Concrete
// implementations live in internal/data and internal/blockchain; this
// package only fixes the contracts.
package external

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// ListedToken is one row returned by a TokenListingSource harvest.
type ListedToken struct {
	Address        string
	Symbol         string
	Blockchain     string
	CreatedAt      time.Time
	CurrentPrice   decimal.Decimal
	CreatorAddress string
}

// TokenListingSource harvests newly listed tokens. Idempotent; called
// each round in virtual and live mode.
type TokenListingSource interface {
	Harvest(ctx context.Context) ([]ListedToken, error)
}

// PriceQuote is one entry of a batched market-data response.
type PriceQuote struct {
	Price     decimal.Decimal
	Volume24h decimal.Decimal
	Holders   int
	TVL       decimal.Decimal
	FDV       decimal.Decimal
	MarketCap decimal.Decimal
}

// MarketDataAPI fetches batched price/metric quotes. ids are of the
// form "{address}-{canonicalBlockchainSuffix}"; at most 200 per call.
type MarketDataAPI interface {
	GetPrices(ctx context.Context, ids []string) (map[string]PriceQuote, error)
}

// WalletBalance is one token balance row from a WalletInfoAPI.
type WalletBalance struct {
	Symbol               string
	TokenAddress          string
	Balance               decimal.Decimal
	ValueUSD              decimal.Decimal
	AveragePurchasePrice  decimal.Decimal
	Decimals              int
}

// WalletInfoAPI reads on-chain wallet holdings (live mode only).
type WalletInfoAPI interface {
	GetWalletBalances(ctx context.Context, address, blockchain string) ([]WalletBalance, error)
}

// TradeOptions carries trader hints sourced from ExperimentConfig.
type TradeOptions struct {
	SlippageTolerance decimal.Decimal
	GasPrice          decimal.Decimal
	GasLimit          decimal.Decimal
}

// TradeResult is the uniform {success, reason?} shape every executor
// operation returns (§7 "General policy").
type TradeResult struct {
	Success         bool
	TxHash          string
	ActualAmountOut decimal.Decimal
	GasUsed         decimal.Decimal
	ErrorCode       string
	Reason          string
}

// Trader is the on-chain execution abstraction (live mode only). The
// engine selects a primary trader and falls back to a secondary on
// specific failure codes such as a saturated bonding curve.
type Trader interface {
	Name() string
	BuyToken(ctx context.Context, tokenAddress string, nativeAmount decimal.Decimal, opts TradeOptions) (TradeResult, error)
	SellToken(ctx context.Context, tokenAddress string, tokenAmount decimal.Decimal, opts TradeOptions) (TradeResult, error)
}

// ErrCodeSaturatedBondingCurve is the Trader error code that triggers
// secondary-trader fallback (§7 SaturatedBondingCurve).
const ErrCodeSaturatedBondingCurve = "saturated_bonding_curve"

// Persistence is the CRUD surface the engine depends on: insert,
// update-by-id, select-by-experiment(+filters), select-by-composite-key.
type Persistence interface {
	InsertSignal(ctx context.Context, signal types.TradeSignal) error
	UpdateSignal(ctx context.Context, signal types.TradeSignal) error
	InsertTrade(ctx context.Context, trade types.ExperimentTrade) error
	InsertSnapshot(ctx context.Context, snap types.PortfolioSnapshot) error
	InsertTimeSeries(ctx context.Context, rec types.TimeSeriesRecord) error
	GetTimeSeriesByExperiment(ctx context.Context, experimentID string) ([]types.TimeSeriesRecord, error)
	GetExperiment(ctx context.Context, id string) (*types.Experiment, error)
	UpdateExperimentStatus(ctx context.Context, id string, status types.ExperimentStatus, at time.Time) error
}

// DenylistService reports whether a token creator wallet is denylisted
// (live mode pre-buy check only).
type DenylistService interface {
	IsDenylistedWallet(ctx context.Context, address string) (bool, error)
}

// canonicalBlockchainAliases maps known aliases to a canonical
// blockchain id (§6 "Blockchain-id normalization").
var canonicalBlockchainAliases = map[string]string{
	"bnb":     "bsc",
	"sol":     "solana",
	"eth":     "ethereum",
}

// CanonicalBlockchain resolves an alias to its canonical id, passing
// through anything not in the alias table unchanged.
func CanonicalBlockchain(id string) string {
	if canon, ok := canonicalBlockchainAliases[id]; ok {
		return canon
	}
	return id
}

// MarketDataID formats the market-data API id for (address, blockchain).
func MarketDataID(address, blockchain string) string {
	return address + "-" + CanonicalBlockchain(blockchain)
}
