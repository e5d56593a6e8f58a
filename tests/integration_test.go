// Package integration_test exercises the full experiment lifecycle
// (create, start, run, stop) through the real HTTP/WebSocket server
// across virtual and backtest modes.
package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/api"
	"github.com/atlas-desktop/trading-backend/internal/data"
	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/modes"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fixedListing struct {
	tokens []external.ListedToken
}

func (f fixedListing) Harvest(ctx context.Context) ([]external.ListedToken, error) {
	return f.tokens, nil
}

type fixedMarketData struct {
	quotes map[string]external.PriceQuote
}

func (f fixedMarketData) GetPrices(ctx context.Context, ids []string) (map[string]external.PriceQuote, error) {
	out := make(map[string]external.PriceQuote, len(ids))
	for _, id := range ids {
		if q, ok := f.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

// fastTickFactory builds virtual adapters with a short tick interval so
// integration tests observe at least one round without a long sleep. It
// builds no backtest adapter; the backtest test uses backtestFactory.
type fastTickFactory struct {
	listing    external.TokenListingSource
	marketData external.MarketDataAPI
	interval   time.Duration
}

func (f *fastTickFactory) Build(ctx context.Context, logger *zap.Logger, exp *types.Experiment) (engine.ModeAdapter, func(context.Context, *engine.Engine) error, error) {
	switch exp.Mode {
	case types.ModeVirtual:
		adapter := modes.NewVirtualAdapter(logger, f.listing, f.marketData, exp.Config.PositionManagement)
		return adapter, func(ctx context.Context, eng *engine.Engine) error {
			return modes.Run(ctx, logger, eng, f.interval)
		}, nil
	case types.ModeBacktest:
		return nil, nil, nil // not exercised by this factory
	default:
		return nil, nil, nil
	}
}

func newWSURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func cardConfig() types.PositionManagementConfig {
	return types.PositionManagementConfig{
		Enabled:       true,
		TotalCards:    10,
		PerCardNative: decimal.NewFromInt(10),
		InitialAllocation: types.InitialAllocation{
			NativeCards: 10,
			TokenCards:  0,
		},
	}
}

// TestVirtualExperimentLifecycle drives an experiment from creation
// through a live round to a clean stop, observing progress over the
// WebSocket channel as well as the REST surface.
func TestVirtualExperimentLifecycle(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}

	factory := &fastTickFactory{
		listing: fixedListing{tokens: []external.ListedToken{
			{Address: "0xAAA", Symbol: "AAA", Blockchain: "ethereum", CreatedAt: time.Now(), CurrentPrice: decimal.NewFromInt(1)},
		}},
		marketData: fixedMarketData{quotes: map[string]external.PriceQuote{
			"0xAAA-ethereum": {Price: decimal.NewFromInt(1)},
		}},
		interval: 50 * time.Millisecond,
	}

	server := api.NewServer(logger, &types.ServerConfig{
		Host: "127.0.0.1", Port: 0, WebSocketPath: "/ws", MaxConnections: 10, EnableMetrics: true,
	}, store, factory)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	createBody, _ := json.Marshal(map[string]interface{}{
		"name":         "integration-virtual",
		"mode":         types.ModeVirtual,
		"blockchainId": "ethereum",
		"config": types.ExperimentConfig{
			InitialCapital:     decimal.NewFromInt(1000),
			PositionManagement: cardConfig(),
		},
	})
	resp, err := http.Post(ts.URL+"/api/v1/experiments", "application/json", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("create experiment failed: %v", err)
	}
	var exp types.Experiment
	if err := json.NewDecoder(resp.Body).Decode(&exp); err != nil {
		t.Fatalf("decode experiment failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	wsConn, _, err := websocket.DefaultDialer.Dial(newWSURL(ts.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer wsConn.Close()

	subscribe, _ := json.Marshal(api.WSMessage{
		Type:    api.MsgTypeSubscribe,
		Channel: "experiment:" + exp.ID + ":status",
	})
	if err := wsConn.WriteMessage(websocket.TextMessage, subscribe); err != nil {
		t.Fatalf("subscribe write failed: %v", err)
	}
	// Give the hub's register/subscribe goroutine time to process before
	// the broadcast below fires, so the message isn't published to a
	// channel with no subscriber registered yet.
	time.Sleep(100 * time.Millisecond)

	startResp, err := http.Post(ts.URL+"/api/v1/experiments/"+exp.ID+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	startResp.Body.Close()
	if startResp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", startResp.StatusCode)
	}

	wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := wsConn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a status broadcast after start: %v", err)
	}
	var received api.WSMessage
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("failed to decode ws message: %v", err)
	}
	if received.Type != api.MsgTypeExperimentStatus {
		t.Errorf("expected experiment_status message, got %s", received.Type)
	}

	time.Sleep(200 * time.Millisecond)

	portfolioResp, err := http.Get(ts.URL + "/api/v1/experiments/" + exp.ID + "/portfolio")
	if err != nil {
		t.Fatalf("portfolio request failed: %v", err)
	}
	defer portfolioResp.Body.Close()
	if portfolioResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", portfolioResp.StatusCode)
	}

	stopResp, err := http.Post(ts.URL+"/api/v1/experiments/"+exp.ID+"/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop request failed: %v", err)
	}
	defer stopResp.Body.Close()
	if stopResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", stopResp.StatusCode)
	}
}
