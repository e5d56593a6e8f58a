package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/api"
	"github.com/atlas-desktop/trading-backend/internal/data"
	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/internal/modes"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// backtestFactory replays a fixed source experiment, regardless of which
// experiment is being started, so the test can seed one source and
// exercise BacktestAdapter end to end through the API.
type backtestFactory struct {
	persistence external.Persistence
	sourceExpID string
}

func (f *backtestFactory) Build(ctx context.Context, logger *zap.Logger, exp *types.Experiment) (engine.ModeAdapter, func(context.Context, *engine.Engine) error, error) {
	adapter, err := modes.NewBacktestAdapter(ctx, logger, f.persistence, f.sourceExpID, exp.Config.PositionManagement)
	if err != nil {
		return nil, nil, err
	}
	return adapter, func(ctx context.Context, eng *engine.Engine) error {
		return modes.RunBacktest(ctx, logger, eng, adapter, f.persistence)
	}, nil
}

// seedSourceExperiment persists a source experiment with a few rounds of
// recorded time series for the backtest adapter to replay.
func seedSourceExperiment(t *testing.T, store *data.Store) string {
	t.Helper()
	ctx := context.Background()
	source := &types.Experiment{
		ID:     "source-exp",
		Name:   "seed",
		Mode:   types.ModeVirtual,
		Status: types.ExperimentCompleted,
		Config: types.ExperimentConfig{InitialCapital: decimal.NewFromInt(1000)},
	}
	if err := store.CreateExperiment(ctx, source); err != nil {
		t.Fatalf("failed to create source experiment: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for loop := 1; loop <= 3; loop++ {
		rec := types.TimeSeriesRecord{
			ExperimentID: source.ID,
			TokenAddress: "0xBBB",
			TokenSymbol:  "BBB",
			Blockchain:   "ethereum",
			Timestamp:    base.Add(time.Duration(loop) * time.Minute),
			LoopCount:    loop,
			PriceUSD:     decimal.NewFromInt(int64(loop)),
			FactorValues: map[string]float64{"earlyReturn": float64(loop) * 10},
		}
		if err := store.InsertTimeSeries(ctx, rec); err != nil {
			t.Fatalf("failed to insert time series: %v", err)
		}
	}
	return source.ID
}

func TestBacktestExperimentReplaysSourceExperiment(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}
	sourceID := seedSourceExperiment(t, store)

	server := api.NewServer(logger, &types.ServerConfig{
		Host: "127.0.0.1", Port: 0, WebSocketPath: "/ws", MaxConnections: 10,
	}, store, &backtestFactory{persistence: store, sourceExpID: sourceID})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	exp := &types.Experiment{
		ID:     "backtest-exp",
		Name:   "replay",
		Mode:   types.ModeBacktest,
		Status: types.ExperimentInitializing,
		Config: types.ExperimentConfig{
			InitialCapital:      decimal.NewFromInt(1000),
			BacktestSourceExpID: sourceID,
			PositionManagement: types.PositionManagementConfig{
				Enabled: true, TotalCards: 10, PerCardNative: decimal.NewFromInt(10),
				InitialAllocation: types.InitialAllocation{NativeCards: 10, TokenCards: 0},
			},
		},
	}
	if err := store.CreateExperiment(context.Background(), exp); err != nil {
		t.Fatalf("failed to create backtest experiment: %v", err)
	}

	startResp, err := http.Post(ts.URL+"/api/v1/experiments/"+exp.ID+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	startResp.Body.Close()
	if startResp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", startResp.StatusCode)
	}

	// Backtest replay has no ticker; three rounds finish well inside this.
	deadline := time.Now().Add(2 * time.Second)
	var status types.ExperimentStatus
	for time.Now().Before(deadline) {
		got, err := store.GetExperiment(context.Background(), exp.ID)
		if err != nil {
			t.Fatalf("get experiment failed: %v", err)
		}
		status = got.Status
		if status == types.ExperimentCompleted || status == types.ExperimentFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status != types.ExperimentCompleted {
		t.Errorf("expected experiment to complete, got status %s", status)
	}
}
