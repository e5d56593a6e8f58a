package main

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/trading-backend/internal/blockchain"
	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/modes"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"go.uber.org/zap"
)

// chainTraders bundles the on-chain collaborators live mode needs for one
// blockchain: a wallet balance source and primary/secondary trade dispatch.
type chainTraders struct {
	wallet    external.WalletInfoAPI
	primary   external.Trader
	secondary external.Trader
}

// engineFactory is the api.AdapterFactory wiring virtual/backtest/live
// mode adapters from the process-wide collaborators built in main().
type engineFactory struct {
	listing     external.TokenListingSource
	marketData  external.MarketDataAPI
	persistence external.Persistence
	denylist    external.DenylistService
	walletAddr  string
	chains      map[string]chainTraders // keyed by external.CanonicalBlockchain id
}

func (f *engineFactory) Build(ctx context.Context, logger *zap.Logger, exp *types.Experiment) (engine.ModeAdapter, func(context.Context, *engine.Engine) error, error) {
	switch exp.Mode {
	case types.ModeVirtual:
		adapter := modes.NewVirtualAdapter(logger, f.listing, f.marketData, exp.Config.PositionManagement)
		run := func(ctx context.Context, eng *engine.Engine) error {
			return modes.Run(ctx, logger, eng, modes.DefaultTickInterval)
		}
		return adapter, run, nil

	case types.ModeBacktest:
		adapter, err := modes.NewBacktestAdapter(ctx, logger, f.persistence, exp.Config.BacktestSourceExpID, exp.Config.PositionManagement)
		if err != nil {
			return nil, nil, fmt.Errorf("factory: backtest adapter: %w", err)
		}
		run := func(ctx context.Context, eng *engine.Engine) error {
			return modes.RunBacktest(ctx, logger, eng, adapter, f.persistence)
		}
		return adapter, run, nil

	case types.ModeLive:
		chain := external.CanonicalBlockchain(exp.BlockchainID)
		traders, ok := f.chains[chain]
		if !ok {
			return nil, nil, fmt.Errorf("factory: no live trading collaborators configured for blockchain %q", chain)
		}
		walletAddress := f.walletAddr
		walletBlockchain := chain
		if wallet := exp.Config.Wallet; wallet != nil && wallet.Address != "" {
			walletAddress = wallet.Address
		}
		adapter := modes.NewLiveAdapter(logger, modes.LiveConfig{
			Listing:          f.listing,
			MarketData:       f.marketData,
			Wallet:           traders.wallet,
			Denylist:         f.denylist,
			Primary:          traders.primary,
			Secondary:        traders.secondary,
			WalletAddress:    walletAddress,
			WalletBlockchain: walletBlockchain,
			CardConfig:       exp.Config.PositionManagement,
			ReserveNative:    exp.Config.ReserveNative,
			TradeOptions: external.TradeOptions{
				SlippageTolerance: exp.Config.MaxSlippage,
				GasPrice:          exp.Config.MaxGasPrice,
				GasLimit:          exp.Config.MaxGasLimit,
			},
		})
		run := func(ctx context.Context, eng *engine.Engine) error {
			return modes.Run(ctx, logger, eng, modes.DefaultTickInterval)
		}
		return adapter, run, nil

	default:
		return nil, nil, fmt.Errorf("factory: %w: unknown mode %q", engine.ErrConfig, exp.Mode)
	}
}

// buildSolanaChain wires a SolanaClient into the Trader/WalletInfoAPI
// adapters under the given trader name.
func buildSolanaChain(logger *zap.Logger, client *blockchain.SolanaClient, name string) chainTraders {
	return chainTraders{
		wallet:  blockchain.NewSolanaWalletInfo(client),
		primary: blockchain.NewSolanaTrader(logger, client, name),
	}
}

// buildEVMChain wires an EVMClient into the Trader/WalletInfoAPI adapters
// under the given trader name.
func buildEVMChain(logger *zap.Logger, client *blockchain.EVMClient, name string) chainTraders {
	return chainTraders{
		wallet:  blockchain.NewEVMWalletInfo(client),
		primary: blockchain.NewEVMTrader(logger, client, name),
	}
}
