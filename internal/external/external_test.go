package external

import "testing"

func TestCanonicalBlockchainResolvesAliases(t *testing.T) {
	cases := map[string]string{
		"bnb": "bsc", "sol": "solana", "eth": "ethereum",
		"bsc": "bsc", "polygon": "polygon",
	}
	for in, want := range cases {
		if got := CanonicalBlockchain(in); got != want {
			t.Errorf("CanonicalBlockchain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMarketDataIDFormat(t *testing.T) {
	if got, want := MarketDataID("0xabc", "bnb"), "0xabc-bsc"; got != want {
		t.Fatalf("MarketDataID = %q, want %q", got, want)
	}
}
