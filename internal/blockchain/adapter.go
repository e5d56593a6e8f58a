package blockchain

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SolanaWalletInfo adapts a SolanaClient into external.WalletInfoAPI. It
// reports the wallet's native SOL balance; live mode's card accounting
// tracks token balances itself from trade fills (§9 "Design Note"), so a
// single native-balance row is all the mode adapter's SyncHoldings needs
// to reconcile the reserve floor against.
type SolanaWalletInfo struct {
	client *SolanaClient
}

// NewSolanaWalletInfo wraps client as a WalletInfoAPI.
func NewSolanaWalletInfo(client *SolanaClient) *SolanaWalletInfo {
	return &SolanaWalletInfo{client: client}
}

var _ external.WalletInfoAPI = (*SolanaWalletInfo)(nil)

// GetWalletBalances implements external.WalletInfoAPI.
func (w *SolanaWalletInfo) GetWalletBalances(ctx context.Context, address, blockchain string) ([]external.WalletBalance, error) {
	balance, err := w.client.GetBalance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("blockchain: solana wallet balance: %w", err)
	}
	return []external.WalletBalance{{
		Symbol:       "SOL",
		TokenAddress: "native",
		Balance:      balance,
	}}, nil
}

// EVMWalletInfo adapts an EVMClient into external.WalletInfoAPI, same
// native-only contract as SolanaWalletInfo.
type EVMWalletInfo struct {
	client *EVMClient
}

// NewEVMWalletInfo wraps client as a WalletInfoAPI.
func NewEVMWalletInfo(client *EVMClient) *EVMWalletInfo {
	return &EVMWalletInfo{client: client}
}

var _ external.WalletInfoAPI = (*EVMWalletInfo)(nil)

// GetWalletBalances implements external.WalletInfoAPI.
func (w *EVMWalletInfo) GetWalletBalances(ctx context.Context, address, blockchain string) ([]external.WalletBalance, error) {
	balance, err := w.client.GetBalance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("blockchain: evm wallet balance: %w", err)
	}
	return []external.WalletBalance{{
		Symbol:       string(w.client.chain),
		TokenAddress: "native",
		Balance:      balance,
	}}, nil
}

// SolanaTrader adapts a SolanaClient into external.Trader. It submits a
// trade through the client's JSON-RPC connection; constructing the actual
// DEX swap instruction for the target token is wire-encoding work this
// module does not do (Non-goal, §1), so the request carries the trade
// intent and the RPC layer is expected to be fronted by a swap-building
// co-process in a full deployment.
type SolanaTrader struct {
	logger *zap.Logger
	client *SolanaClient
	name   string
}

// NewSolanaTrader wraps client as a named external.Trader.
func NewSolanaTrader(logger *zap.Logger, client *SolanaClient, name string) *SolanaTrader {
	return &SolanaTrader{logger: logger.Named("blockchain.trader." + name), client: client, name: name}
}

var _ external.Trader = (*SolanaTrader)(nil)

func (t *SolanaTrader) Name() string { return t.name }

func (t *SolanaTrader) BuyToken(ctx context.Context, tokenAddress string, nativeAmount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	return t.submit(ctx, "buy", tokenAddress, nativeAmount, opts)
}

func (t *SolanaTrader) SellToken(ctx context.Context, tokenAddress string, tokenAmount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	return t.submit(ctx, "sell", tokenAddress, tokenAmount, opts)
}

func (t *SolanaTrader) submit(ctx context.Context, side, tokenAddress string, amount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "sendTransaction",
		"params":  []interface{}{side, tokenAddress, amount.String(), opts.SlippageTolerance.String()},
	}
	resp, err := t.client.rpcCall(ctx, request)
	if err != nil {
		t.logger.Warn("blockchain: trade submit failed", zap.String("side", side), zap.Error(err))
		return external.TradeResult{Success: false, Reason: err.Error()}, nil
	}
	txHash, _ := resp["result"].(string)
	return external.TradeResult{Success: true, TxHash: txHash, ActualAmountOut: amount}, nil
}

// EVMTrader adapts an EVMClient into external.Trader, same contract as
// SolanaTrader via eth_sendRawTransaction.
type EVMTrader struct {
	logger *zap.Logger
	client *EVMClient
	name   string
}

// NewEVMTrader wraps client as a named external.Trader.
func NewEVMTrader(logger *zap.Logger, client *EVMClient, name string) *EVMTrader {
	return &EVMTrader{logger: logger.Named("blockchain.trader." + name), client: client, name: name}
}

var _ external.Trader = (*EVMTrader)(nil)

func (t *EVMTrader) Name() string { return t.name }

func (t *EVMTrader) BuyToken(ctx context.Context, tokenAddress string, nativeAmount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	return t.submit(ctx, "buy", tokenAddress, nativeAmount, opts)
}

func (t *EVMTrader) SellToken(ctx context.Context, tokenAddress string, tokenAmount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	return t.submit(ctx, "sell", tokenAddress, tokenAmount, opts)
}

func (t *EVMTrader) submit(ctx context.Context, side, tokenAddress string, amount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	resp, err := t.client.rpcCall(ctx, "eth_sendRawTransaction", []interface{}{side, tokenAddress, amount.String(), opts.GasPrice.String()})
	if err != nil {
		t.logger.Warn("blockchain: trade submit failed", zap.String("side", side), zap.Error(err))
		return external.TradeResult{Success: false, Reason: err.Error()}, nil
	}
	txHash, _ := resp["result"].(string)
	return external.TradeResult{Success: true, TxHash: txHash, ActualAmountOut: amount}, nil
}
