// Package types provides shared type definitions for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExperimentMode selects which engine realization drives an Experiment.
type ExperimentMode string

const (
	ModeVirtual  ExperimentMode = "virtual"
	ModeBacktest ExperimentMode = "backtest"
	ModeLive     ExperimentMode = "live"
)

// ExperimentStatus is the lifecycle state of an Experiment.
type ExperimentStatus string

const (
	ExperimentInitializing ExperimentStatus = "initializing"
	ExperimentRunning      ExperimentStatus = "running"
	ExperimentCompleted    ExperimentStatus = "completed"
	ExperimentFailed       ExperimentStatus = "failed"
	ExperimentStopped      ExperimentStatus = "stopped"
)

// TradeDirection is buy or sell for a signal/trade.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// TokenStatus is the lifecycle state of a monitored Token.
type TokenStatus string

const (
	TokenMonitoring TokenStatus = "monitoring"
	TokenBought     TokenStatus = "bought"
	TokenInactive   TokenStatus = "inactive"
)

// WalletConfig holds the live-mode wallet credentials reference.
type WalletConfig struct {
	Address              string `json:"address"`
	EncryptedPrivateKey   string `json:"privateKey"`
}

// InitialAllocation is the starting native/token card split.
type InitialAllocation struct {
	NativeCards int `json:"nativeCards"`
	TokenCards  int `json:"tokenCards"`
}

// PositionManagementConfig configures CardPositionManager defaults.
type PositionManagementConfig struct {
	Enabled            bool               `json:"enabled"`
	TotalCards         int                `json:"totalCards"`
	PerCardNative      decimal.Decimal    `json:"perCardNative"`
	InitialAllocation  InitialAllocation  `json:"initialAllocation"`
}

// StrategyDefinition is the user-authored strategy document (§4.4).
type StrategyDefinition struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Action          TradeDirection `json:"action"`
	Priority        int            `json:"priority"`
	CooldownSeconds int64          `json:"cooldownSeconds"`
	MaxExecutions   *int           `json:"maxExecutions,omitempty"`
	Cards           int            `json:"cards"`
	Condition       string         `json:"condition"`
	Disabled        bool           `json:"disabled"`
}

// ExperimentConfig is the recognized document on the Experiment row (§6).
type ExperimentConfig struct {
	InitialCapital       decimal.Decimal                `json:"initial_capital"`
	Wallet               *WalletConfig                  `json:"wallet,omitempty"`
	BacktestSourceExpID  string                          `json:"backtest_source_experiment_id,omitempty"`
	PositionManagement   PositionManagementConfig        `json:"positionManagement"`
	StrategiesConfig     map[string]StrategyDefinition   `json:"strategiesConfig"`
	ReserveNative        decimal.Decimal                 `json:"reserveNative"`
	MaxSlippage          decimal.Decimal                 `json:"maxSlippage"`
	MaxGasPrice          decimal.Decimal                 `json:"maxGasPrice"`
	MaxGasLimit          decimal.Decimal                 `json:"maxGasLimit"`
}

// Experiment is the top-level run descriptor (§3).
type Experiment struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Mode         ExperimentMode   `json:"mode"`
	BlockchainID string           `json:"blockchainId"`
	Status       ExperimentStatus `json:"status"`
	Config       ExperimentConfig `json:"config"`
	StartedAt    *time.Time       `json:"startedAt,omitempty"`
	StoppedAt    *time.Time       `json:"stoppedAt,omitempty"`
}

// StrategyExecutionCounter tracks per-(token, strategy) execution accounting.
type StrategyExecutionCounter struct {
	Count           int       `json:"count"`
	LastExecutionAt time.Time `json:"lastExecutionAt"`
}

// TokenMarketMetrics is the latest market snapshot for a token.
type TokenMarketMetrics struct {
	Volume24h   decimal.Decimal `json:"txVolumeU24h"`
	Holders     int             `json:"holders"`
	TVL         decimal.Decimal `json:"tvl"`
	FDV         decimal.Decimal `json:"fdv"`
	MarketCap   decimal.Decimal `json:"marketCap"`
}

// Token is an observed tradeable instrument, identified by (address, blockchain).
type Token struct {
	Address              string         `json:"address"`
	Blockchain           string         `json:"blockchain"`
	Symbol               string         `json:"symbol"`
	CreatedAt            time.Time      `json:"createdAt"`
	CollectedAt          time.Time      `json:"collectedAt"`
	CollectionPrice      decimal.Decimal `json:"collectionPrice"`
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	HighestPrice         decimal.Decimal `json:"highestPrice"`
	HighestPriceAt       time.Time      `json:"highestPriceTimestamp"`
	Metrics              TokenMarketMetrics `json:"metrics"`
	CreatorAddress       string         `json:"creatorAddress"`
	Status               TokenStatus    `json:"status"`
	BuyPrice             decimal.Decimal `json:"buyPrice"`
	BuyTime              time.Time      `json:"buyTime"`
	StrategyExecutions   map[string]*StrategyExecutionCounter `json:"strategyExecutions"`
}

// Lot is a single FIFO cost-basis entry within a Position.
type Lot struct {
	Amount decimal.Decimal `json:"amount"`
	Cost   decimal.Decimal `json:"cost"`
}

// Position is a per-token holding within an ExperimentPortfolio.
type Position struct {
	Address               string          `json:"address"`
	Lots                  []Lot           `json:"lots"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	AveragePurchasePrice  decimal.Decimal `json:"averagePurchasePrice"`
	CurrentPrice          decimal.Decimal `json:"currentPrice"`
	Value                 decimal.Decimal `json:"value"`
	UnrealizedPnL         decimal.Decimal `json:"unrealizedPnL"`
	RealizedPnL           decimal.Decimal `json:"realizedPnL"`

	// aggregateOnly marks a position resynced via UpdatePosition's fast
	// path (§9 Open Question b): the lot queue is stale and must be
	// rebuilt from TotalAmount/AveragePurchasePrice on the next trade.
	AggregateOnly bool `json:"-"`
}

// ExperimentPortfolio is the per-experiment financial ledger (§3/§4.3).
type ExperimentPortfolio struct {
	ID               string               `json:"id"`
	ExperimentID     string               `json:"experimentId"`
	AvailableBalance decimal.Decimal      `json:"availableBalance"`
	Positions        map[string]*Position `json:"positions"`
	TotalValue       decimal.Decimal      `json:"totalValue"`
	TotalInvested    decimal.Decimal      `json:"totalInvested"`
	TotalPnL         decimal.Decimal      `json:"totalPnL"`
}

// SignalOutcome records what happened after a TradeSignal was dispatched.
type SignalOutcome struct {
	Executed     bool    `json:"executed"`
	TradeID      string  `json:"tradeId,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

// TradeSignal is a record of a strategy decision (§3).
type TradeSignal struct {
	ID             string                 `json:"id"`
	ExperimentID   string                 `json:"experimentId"`
	TokenAddress   string                 `json:"tokenAddress"`
	TokenSymbol    string                 `json:"tokenSymbol"`
	Action         TradeDirection         `json:"action"`
	Confidence     decimal.Decimal        `json:"confidence"`
	Reason         string                 `json:"reason"`
	Factors        map[string]float64     `json:"factors"`
	Price          decimal.Decimal        `json:"price"`
	StrategyID     string                 `json:"strategyId"`
	Outcome        SignalOutcome          `json:"outcome"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// WalletInfo records the wallet/gas metadata attached to a live trade.
type WalletInfo struct {
	Address string          `json:"address"`
	GasUsed decimal.Decimal `json:"gasUsed,omitempty"`
}

// TradeCardMetadata captures card-manager state before/after a trade.
type TradeCardMetadata struct {
	NativeCardsBefore int `json:"nativeCardsBefore"`
	TokenCardsBefore  int `json:"tokenCardsBefore"`
	NativeCardsAfter  int `json:"nativeCardsAfter"`
	TokenCardsAfter   int `json:"tokenCardsAfter"`
}

// ExperimentTrade is an executed order (§3).
type ExperimentTrade struct {
	ID              string             `json:"id"`
	ExperimentID    string             `json:"experimentId"`
	SignalID        string             `json:"signalId,omitempty"`
	Direction       TradeDirection     `json:"direction"`
	InputCurrency   string             `json:"inputCurrency"`
	InputAmount     decimal.Decimal    `json:"inputAmount"`
	OutputCurrency  string             `json:"outputCurrency"`
	OutputAmount    decimal.Decimal    `json:"outputAmount"`
	UnitPrice       decimal.Decimal    `json:"unitPrice"`
	Success         bool               `json:"success"`
	TxHash          string             `json:"txHash,omitempty"`
	Wallet          *WalletInfo        `json:"wallet,omitempty"`
	TraderUsed      string             `json:"traderUsed,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
	CardMetadata    TradeCardMetadata  `json:"cardMetadata"`
}

// TimeSeriesRecord is a per-(experiment, token, tick) snapshot (§3/§6).
type TimeSeriesRecord struct {
	ExperimentID string             `json:"experiment_id"`
	TokenAddress string             `json:"token_address"`
	TokenSymbol  string             `json:"token_symbol"`
	Timestamp    time.Time          `json:"timestamp"`
	LoopCount    int                `json:"loop_count"`
	PriceUSD     decimal.Decimal    `json:"price_usd"`
	FactorValues map[string]float64 `json:"factor_values"`
	Blockchain   string             `json:"blockchain"`
}

// PortfolioSnapshot is a per-round persisted view of a portfolio.
type PortfolioSnapshot struct {
	ExperimentID     string          `json:"experimentId"`
	Timestamp        time.Time       `json:"timestamp"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	TotalValue       decimal.Decimal `json:"totalValue"`
	TotalInvested    decimal.Decimal `json:"totalInvested"`
	TotalPnL         decimal.Decimal `json:"totalPnL"`
	PositionCount    int             `json:"positionCount"`
}
