// Package data provides file-backed persistence and market data services.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"go.uber.org/zap"
)

// Store is a file-backed implementation of external.Persistence. Each
// experiment gets its own subdirectory holding an experiment.json plus
// one JSON array per record kind; rows are appended, except that
// UpdateSignal rewrites a signal row in place. Like the teacher's OHLCV
// store, every write rewrites the whole file under a single mutex;
// correctness over throughput, since persistence here is off the hot
// path of RunRound.
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string

	experiments map[string]*types.Experiment
	signals     map[string][]types.TradeSignal
	trades      map[string][]types.ExperimentTrade
	snapshots   map[string][]types.PortfolioSnapshot
	timeSeries  map[string][]types.TimeSeriesRecord
}

var _ external.Persistence = (*Store)(nil)

// NewStore creates a data store rooted at dataDir, loading any
// previously persisted experiments found there.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	s := &Store{
		logger:      logger,
		dataDir:     dataDir,
		experiments: make(map[string]*types.Experiment),
		signals:     make(map[string][]types.TradeSignal),
		trades:      make(map[string][]types.ExperimentTrade),
		snapshots:   make(map[string][]types.PortfolioSnapshot),
		timeSeries:  make(map[string][]types.TimeSeriesRecord),
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := s.loadExisting(); err != nil {
		logger.Warn("data: failed to load existing experiments", zap.Error(err))
	}
	return s, nil
}

func (s *Store) experimentDir(id string) string {
	return filepath.Join(s.dataDir, id)
}

// loadExisting scans dataDir for experiment subdirectories and warms the
// in-memory cache from their experiment.json files.
func (s *Store) loadExisting() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, err := s.readExperimentFile(entry.Name())
		if err != nil {
			continue
		}
		s.experiments[exp.ID] = exp
		s.signals[exp.ID], _ = s.readSignalsFile(exp.ID)
		s.trades[exp.ID], _ = s.readTradesFile(exp.ID)
		s.snapshots[exp.ID], _ = s.readSnapshotsFile(exp.ID)
		s.timeSeries[exp.ID], _ = s.readTimeSeriesFile(exp.ID)
	}
	return nil
}

// CreateExperiment persists a new experiment. Not part of
// external.Persistence; called by the API layer when an experiment is
// first created.
func (s *Store) CreateExperiment(ctx context.Context, exp *types.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.experimentDir(exp.ID), 0755); err != nil {
		return fmt.Errorf("data: failed to create experiment directory: %w", err)
	}
	s.experiments[exp.ID] = exp
	return s.writeExperimentFile(exp)
}

func (s *Store) GetExperiment(ctx context.Context, id string) (*types.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, fmt.Errorf("data: experiment %s not found", id)
	}
	return exp, nil
}

func (s *Store) UpdateExperimentStatus(ctx context.Context, id string, status types.ExperimentStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[id]
	if !ok {
		return fmt.Errorf("data: experiment %s not found", id)
	}
	exp.Status = status
	switch status {
	case types.ExperimentRunning:
		if exp.StartedAt == nil {
			t := at
			exp.StartedAt = &t
		}
	case types.ExperimentCompleted, types.ExperimentFailed, types.ExperimentStopped:
		t := at
		exp.StoppedAt = &t
	}
	return s.writeExperimentFile(exp)
}

func (s *Store) InsertSignal(ctx context.Context, signal types.TradeSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[signal.ExperimentID] = append(s.signals[signal.ExperimentID], signal)
	return s.writeSignalsFile(signal.ExperimentID)
}

// UpdateSignal rewrites a signal in place, matched by ID.
func (s *Store) UpdateSignal(ctx context.Context, signal types.TradeSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.signals[signal.ExperimentID]
	for i, row := range rows {
		if row.ID == signal.ID {
			rows[i] = signal
			return s.writeSignalsFile(signal.ExperimentID)
		}
	}
	s.signals[signal.ExperimentID] = append(rows, signal)
	return s.writeSignalsFile(signal.ExperimentID)
}

func (s *Store) InsertTrade(ctx context.Context, trade types.ExperimentTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ExperimentID] = append(s.trades[trade.ExperimentID], trade)
	return s.writeTradesFile(trade.ExperimentID)
}

func (s *Store) InsertSnapshot(ctx context.Context, snap types.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ExperimentID] = append(s.snapshots[snap.ExperimentID], snap)
	return s.writeSnapshotsFile(snap.ExperimentID)
}

func (s *Store) InsertTimeSeries(ctx context.Context, rec types.TimeSeriesRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeSeries[rec.ExperimentID] = append(s.timeSeries[rec.ExperimentID], rec)
	return s.writeTimeSeriesFile(rec.ExperimentID)
}

func (s *Store) GetTimeSeriesByExperiment(ctx context.Context, experimentID string) ([]types.TimeSeriesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TimeSeriesRecord, len(s.timeSeries[experimentID]))
	copy(out, s.timeSeries[experimentID])
	return out, nil
}

// --- file I/O, one JSON array per record kind per experiment ---

func (s *Store) writeExperimentFile(exp *types.Experiment) error {
	return writeJSONFile(filepath.Join(s.experimentDir(exp.ID), "experiment.json"), exp)
}

func (s *Store) readExperimentFile(id string) (*types.Experiment, error) {
	var exp types.Experiment
	if err := readJSONFile(filepath.Join(s.experimentDir(id), "experiment.json"), &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

func (s *Store) writeSignalsFile(experimentID string) error {
	return writeJSONFile(filepath.Join(s.experimentDir(experimentID), "signals.json"), s.signals[experimentID])
}

func (s *Store) readSignalsFile(experimentID string) ([]types.TradeSignal, error) {
	var rows []types.TradeSignal
	err := readJSONFile(filepath.Join(s.experimentDir(experimentID), "signals.json"), &rows)
	return rows, err
}

func (s *Store) writeTradesFile(experimentID string) error {
	return writeJSONFile(filepath.Join(s.experimentDir(experimentID), "trades.json"), s.trades[experimentID])
}

func (s *Store) readTradesFile(experimentID string) ([]types.ExperimentTrade, error) {
	var rows []types.ExperimentTrade
	err := readJSONFile(filepath.Join(s.experimentDir(experimentID), "trades.json"), &rows)
	return rows, err
}

func (s *Store) writeSnapshotsFile(experimentID string) error {
	return writeJSONFile(filepath.Join(s.experimentDir(experimentID), "snapshots.json"), s.snapshots[experimentID])
}

func (s *Store) readSnapshotsFile(experimentID string) ([]types.PortfolioSnapshot, error) {
	var rows []types.PortfolioSnapshot
	err := readJSONFile(filepath.Join(s.experimentDir(experimentID), "snapshots.json"), &rows)
	return rows, err
}

func (s *Store) writeTimeSeriesFile(experimentID string) error {
	return writeJSONFile(filepath.Join(s.experimentDir(experimentID), "timeseries.json"), s.timeSeries[experimentID])
}

func (s *Store) readTimeSeriesFile(experimentID string) ([]types.TimeSeriesRecord, error) {
	var rows []types.TimeSeriesRecord
	err := readJSONFile(filepath.Join(s.experimentDir(experimentID), "timeseries.json"), &rows)
	return rows, err
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("data: failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("data: failed to write %s: %w", path, err)
	}
	return nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
