// Package data_test provides tests for the data store.
package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/data"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestStoreCreateAndGetExperiment(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()

	exp := &types.Experiment{ID: "exp-1", Name: "first", Mode: types.ModeVirtual, Status: types.ExperimentInitializing}
	if err := store.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}

	got, err := store.GetExperiment(ctx, "exp-1")
	if err != nil {
		t.Fatalf("GetExperiment failed: %v", err)
	}
	if got.Name != "first" {
		t.Fatalf("Name = %q, want %q", got.Name, "first")
	}
}

func TestStoreUpdateExperimentStatusStampsTimestamps(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	exp := &types.Experiment{ID: "exp-2", Mode: types.ModeVirtual, Status: types.ExperimentInitializing}
	if err := store.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}

	now := time.Now()
	if err := store.UpdateExperimentStatus(ctx, "exp-2", types.ExperimentRunning, now); err != nil {
		t.Fatalf("UpdateExperimentStatus(running) failed: %v", err)
	}
	got, _ := store.GetExperiment(ctx, "exp-2")
	if got.Status != types.ExperimentRunning || got.StartedAt == nil {
		t.Fatalf("expected running status with StartedAt set, got status=%s startedAt=%v", got.Status, got.StartedAt)
	}

	if err := store.UpdateExperimentStatus(ctx, "exp-2", types.ExperimentCompleted, now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateExperimentStatus(completed) failed: %v", err)
	}
	got, _ = store.GetExperiment(ctx, "exp-2")
	if got.Status != types.ExperimentCompleted || got.StoppedAt == nil {
		t.Fatal("expected completed status with StoppedAt set")
	}
}

func TestStoreInsertAndFetchTimeSeries(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	exp := &types.Experiment{ID: "exp-3", Mode: types.ModeBacktest, Status: types.ExperimentInitializing}
	if err := store.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		rec := types.TimeSeriesRecord{
			ExperimentID: "exp-3", TokenAddress: "0xAAA", Blockchain: "ethereum",
			LoopCount: i, Timestamp: time.Now(), PriceUSD: decimal.NewFromInt(int64(i)),
			FactorValues: map[string]float64{"earlyReturn": float64(i * 10)},
		}
		if err := store.InsertTimeSeries(ctx, rec); err != nil {
			t.Fatalf("InsertTimeSeries failed: %v", err)
		}
	}

	rows, err := store.GetTimeSeriesByExperiment(ctx, "exp-3")
	if err != nil {
		t.Fatalf("GetTimeSeriesByExperiment failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
}

func TestStoreReloadsExperimentsFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store1.CreateExperiment(ctx, &types.Experiment{ID: "exp-4", Name: "persisted", Mode: types.ModeVirtual, Status: types.ExperimentRunning}); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	if err := store1.InsertSignal(ctx, types.TradeSignal{ID: "sig-1", ExperimentID: "exp-4", TokenAddress: "0xAAA"}); err != nil {
		t.Fatalf("InsertSignal failed: %v", err)
	}

	store2, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("second NewStore failed: %v", err)
	}
	got, err := store2.GetExperiment(ctx, "exp-4")
	if err != nil {
		t.Fatalf("GetExperiment after reload failed: %v", err)
	}
	if got.Name != "persisted" {
		t.Fatalf("Name = %q after reload, want %q", got.Name, "persisted")
	}
}
