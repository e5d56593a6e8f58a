package modes

import (
	"context"
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/tokenpool"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubWalletInfo struct {
	balances []external.WalletBalance
}

func (s *stubWalletInfo) GetWalletBalances(ctx context.Context, address, blockchain string) ([]external.WalletBalance, error) {
	return s.balances, nil
}

type stubDenylist struct {
	denied map[string]bool
}

func (s *stubDenylist) IsDenylistedWallet(ctx context.Context, address string) (bool, error) {
	return s.denied[address], nil
}

type stubTrader struct {
	name         string
	buyResult    external.TradeResult
	sellResult   external.TradeResult
	buyCalls     int
	sellCalls    int
}

func (s *stubTrader) Name() string { return s.name }
func (s *stubTrader) BuyToken(ctx context.Context, tokenAddress string, nativeAmount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	s.buyCalls++
	return s.buyResult, nil
}
func (s *stubTrader) SellToken(ctx context.Context, tokenAddress string, tokenAmount decimal.Decimal, opts external.TradeOptions) (external.TradeResult, error) {
	s.sellCalls++
	return s.sellResult, nil
}

func TestLiveAdapterSyncHoldingsPreservesCardManagerOnRebuild(t *testing.T) {
	wallet := &stubWalletInfo{balances: []external.WalletBalance{
		{Symbol: "FOO", TokenAddress: "0xAAA", Balance: decimal.NewFromInt(100), AveragePurchasePrice: decimal.NewFromInt(2)},
	}}
	adapter := NewLiveAdapter(zap.NewNop(), LiveConfig{
		Listing: &stubListingSource{}, MarketData: &stubMarketData{}, Wallet: wallet,
		WalletBlockchain: "ethereum", CardConfig: defaultCardConfig(),
	})
	eng := newTestEngine(adapter)

	if err := adapter.SyncHoldings(context.Background(), eng); err != nil {
		t.Fatalf("SyncHoldings failed: %v", err)
	}
	mgr := eng.Pool.GetCardPositionManager("0xAAA", "ethereum")
	if mgr == nil {
		t.Fatal("expected a card manager created for the discovered holding")
	}
	if mgr.NativeCards() != mgr.TotalCards() || mgr.TokenCards() != 0 {
		t.Fatalf("nativeCards=%d tokenCards=%d, want all-native default for a newly discovered token", mgr.NativeCards(), mgr.TokenCards())
	}
	if !eng.Portfolio.HasPosition("0xaaa|ethereum") {
		t.Fatal("expected portfolio position rebuilt from wallet balance")
	}

	// A second sync must not reset the manager's card split.
	mgr.AfterBuy(3)
	if err := adapter.SyncHoldings(context.Background(), eng); err != nil {
		t.Fatalf("second SyncHoldings failed: %v", err)
	}
	mgr2 := eng.Pool.GetCardPositionManager("0xAAA", "ethereum")
	if mgr2.TokenCards() != 3 {
		t.Fatalf("expected card allocation preserved across resync, tokenCards=%d want 3", mgr2.TokenCards())
	}
}

func TestLiveAdapterExecuteBuyRefusesDenylistedCreator(t *testing.T) {
	adapter := NewLiveAdapter(zap.NewNop(), LiveConfig{
		Listing: &stubListingSource{}, MarketData: &stubMarketData{},
		Wallet: &stubWalletInfo{}, Denylist: &stubDenylist{denied: map[string]bool{"0xbad": true}},
		Primary: &stubTrader{name: "primary"}, WalletBlockchain: "ethereum", CardConfig: defaultCardConfig(),
	})
	eng := newTestEngine(adapter)
	eng.Pool.AddToken(tokenpool.AddTokenInput{Address: "0xAAA", Symbol: "FOO", Blockchain: "ethereum", CurrentPrice: decimal.NewFromInt(1)})
	eng.Pool.Get("0xAAA", "ethereum").CreatorAddress = "0xbad"

	signal := types.TradeSignal{TokenAddress: "0xAAA", Price: decimal.NewFromInt(1)}
	result, err := adapter.ExecuteBuy(context.Background(), eng, "0xaaa|ethereum", signal, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected buy to be refused for a denylisted creator")
	}
}

func TestLiveAdapterExecuteBuyFallsBackToSecondaryOnSaturation(t *testing.T) {
	primary := &stubTrader{name: "primary", buyResult: external.TradeResult{Success: false, ErrorCode: external.ErrCodeSaturatedBondingCurve}}
	secondary := &stubTrader{name: "secondary", buyResult: external.TradeResult{Success: true, ActualAmountOut: decimal.NewFromInt(50)}}
	adapter := NewLiveAdapter(zap.NewNop(), LiveConfig{
		Listing: &stubListingSource{}, MarketData: &stubMarketData{}, Wallet: &stubWalletInfo{},
		Primary: primary, Secondary: secondary, WalletBlockchain: "ethereum", CardConfig: defaultCardConfig(),
		ReserveNative: decimal.NewFromInt(0),
	})
	eng := newTestEngine(adapter)

	signal := types.TradeSignal{TokenAddress: "0xAAA", Price: decimal.NewFromInt(1)}
	result, err := adapter.ExecuteBuy(context.Background(), eng, "0xaaa|ethereum", signal, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected secondary fallback to succeed: %s", result.Reason)
	}
	if primary.buyCalls != 1 || secondary.buyCalls != 1 {
		t.Fatalf("primaryCalls=%d secondaryCalls=%d, want 1/1", primary.buyCalls, secondary.buyCalls)
	}
	if !eng.Portfolio.HasPosition("0xaaa|ethereum") {
		t.Fatal("expected a position opened from the secondary trader's actual fill")
	}
}
