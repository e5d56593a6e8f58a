package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HTTPListingSource polls a venue's new-pairs endpoint for freshly listed
// tokens, the same request/decode shape StreamingMarketData uses for its
// feed connection (§6 "TokenListingSource").
type HTTPListingSource struct {
	logger     *zap.Logger
	httpClient *http.Client
	url        string
	blockchain string
}

// ListingSourceConfig configures an HTTPListingSource.
type ListingSourceConfig struct {
	URL        string
	Blockchain string
	Timeout    time.Duration
}

// NewHTTPListingSource constructs a new-pairs poller.
func NewHTTPListingSource(logger *zap.Logger, config ListingSourceConfig) *HTTPListingSource {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPListingSource{
		logger:     logger.Named("data.listing"),
		httpClient: &http.Client{Timeout: timeout},
		url:        config.URL,
		blockchain: config.Blockchain,
	}
}

var _ external.TokenListingSource = (*HTTPListingSource)(nil)

type newPairsResponse struct {
	Pairs []struct {
		TokenAddress   string          `json:"tokenAddress"`
		Symbol         string          `json:"symbol"`
		CreatedAt      int64           `json:"createdAtMs"`
		PriceUSD       decimal.Decimal `json:"priceUsd"`
		CreatorAddress string          `json:"creatorAddress"`
	} `json:"pairs"`
}

// Harvest implements external.TokenListingSource. A request failure is
// returned to the caller (HarvestTokens already logs and continues the
// round per §4.6 step 2, so this need not swallow the error itself).
func (h *HTTPListingSource) Harvest(ctx context.Context) ([]external.ListedToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("data: listing request build: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("data: listing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data: listing request returned status %d", resp.StatusCode)
	}

	var parsed newPairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("data: listing response decode: %w", err)
	}

	tokens := make([]external.ListedToken, 0, len(parsed.Pairs))
	for _, p := range parsed.Pairs {
		tokens = append(tokens, external.ListedToken{
			Address:        p.TokenAddress,
			Symbol:         p.Symbol,
			Blockchain:     h.blockchain,
			CreatedAt:      time.UnixMilli(p.CreatedAt),
			CurrentPrice:   p.PriceUSD,
			CreatorAddress: p.CreatorAddress,
		})
	}
	return tokens, nil
}
