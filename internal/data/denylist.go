package data

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"go.uber.org/zap"
)

// StaticDenylist is a file-backed external.DenylistService: a flat JSON
// array of creator addresses, loaded once at startup. Live mode's pre-buy
// check (§6) only needs a membership test, not a live feed, so unlike
// Store there is no write path — operators edit the file and restart.
type StaticDenylist struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	addresses map[string]bool
}

// NewStaticDenylist loads addresses from path. A missing file is treated
// as an empty denylist rather than an error, so live mode can run before
// an operator has curated one.
func NewStaticDenylist(logger *zap.Logger, path string) (*StaticDenylist, error) {
	d := &StaticDenylist{
		logger:    logger.Named("data.denylist"),
		addresses: make(map[string]bool),
	}
	if path == "" {
		return d, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		d.logger.Info("denylist file not found, starting empty", zap.String("path", path))
		return d, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for _, addr := range entries {
		d.addresses[strings.ToLower(addr)] = true
	}
	d.logger.Info("denylist loaded", zap.Int("entries", len(d.addresses)))
	return d, nil
}

var _ external.DenylistService = (*StaticDenylist)(nil)

// IsDenylistedWallet implements external.DenylistService.
func (d *StaticDenylist) IsDenylistedWallet(ctx context.Context, address string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addresses[strings.ToLower(address)], nil
}
