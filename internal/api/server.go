// Package api provides the HTTP and WebSocket dashboard surface: an
// experiment lifecycle API (create/start/stop, read status/portfolio;
// signals and trades have no read route) and a Prometheus /metrics
// endpoint, kept narrow per §9
// "dashboard read surface" (web UI internals and rendering are a
// Non-goal, so this package only serves JSON and raw WebSocket frames).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// AdapterFactory builds the mode-specific engine.ModeAdapter and its run
// loop for one experiment. cmd/server supplies the concrete factory,
// wiring virtual/backtest/live collaborators (market data, listing
// source, wallet info, denylist, traders) per §4.7 and §6.
type AdapterFactory interface {
	// Build returns the adapter for exp's mode and a runner that drives
	// it to completion (modes.Run for virtual/live, modes.RunBacktest for
	// backtest). The runner blocks until ctx is cancelled or the
	// experiment finishes on its own (backtest replay exhausted).
	Build(ctx context.Context, logger *zap.Logger, exp *types.Experiment) (adapter engine.ModeAdapter, run func(context.Context, *engine.Engine) error, err error)
}

// runningExperiment tracks one live goroutine driving an Engine.
type runningExperiment struct {
	eng    *engine.Engine
	cancel context.CancelFunc
}

// Server is the HTTP/WebSocket dashboard server.
type Server struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	config  *types.ServerConfig
	router  *mux.Router

	persistence external.Persistence
	factory     AdapterFactory
	hub         *Hub
	upgrader    websocket.Upgrader
	httpServer  *http.Server

	running map[string]*runningExperiment
}

// NewServer constructs an API server. persistence backs the experiment
// CRUD endpoints; factory builds the mode adapter for each experiment
// started through the API.
func NewServer(logger *zap.Logger, config *types.ServerConfig, persistence external.Persistence, factory AdapterFactory) *Server {
	s := &Server{
		logger:      logger.Named("api"),
		config:      config,
		router:      mux.NewRouter(),
		persistence: persistence,
		factory:     factory,
		hub:         NewHub(logger.Named("api.hub")),
		running:     make(map[string]*runningExperiment),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	go s.hub.Run()
	return s
}

// Router exposes the mux.Router for use with httptest and embedding.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/experiments", s.handleCreateExperiment).Methods("POST")
	s.router.HandleFunc("/api/v1/experiments/{id}", s.handleGetExperiment).Methods("GET")
	s.router.HandleFunc("/api/v1/experiments/{id}/start", s.handleStartExperiment).Methods("POST")
	s.router.HandleFunc("/api/v1/experiments/{id}/stop", s.handleStopExperiment).Methods("POST")
	s.router.HandleFunc("/api/v1/experiments/{id}/portfolio", s.handleGetPortfolio).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start serves HTTP until Stop is called or the listener errors. The
// hub's pub-sub loop is already running (started in NewServer), so
// WebSocket clients can register before Start is called too.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting api server", zap.String("addr", addr))
	return httpServer.ListenAndServe()
}

// Stop cancels every running experiment and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for id, re := range s.running {
		re.cancel()
		delete(s.running, id)
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "time": time.Now().Unix()})
}

// handleCreateExperiment persists a new Experiment in ExperimentInitializing
// status. Starting it (running the scheduler loop) is a separate call.
func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string                  `json:"name"`
		Mode         types.ExperimentMode    `json:"mode"`
		BlockchainID string                  `json:"blockchainId"`
		Config       types.ExperimentConfig  `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	exp := &types.Experiment{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Mode:         req.Mode,
		BlockchainID: req.BlockchainID,
		Status:       types.ExperimentInitializing,
		Config:       req.Config,
	}

	store, ok := s.persistence.(interface {
		CreateExperiment(ctx context.Context, exp *types.Experiment) error
	})
	if !ok {
		http.Error(w, "persistence does not support experiment creation", http.StatusInternalServerError)
		return
	}
	if err := store.CreateExperiment(r.Context(), exp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exp, err := s.persistence.GetExperiment(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// handleStartExperiment builds the mode adapter, constructs an Engine,
// loads strategies, and launches the scheduler goroutine. Returns
// immediately; progress is observable via /portfolio. The WebSocket
// hub receives one "running" status message here; signals, trades and
// snapshots are not pushed over the WebSocket.
func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exp, err := s.persistence.GetExperiment(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	if _, already := s.running[id]; already {
		s.mu.Unlock()
		http.Error(w, "experiment already running", http.StatusConflict)
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	adapter, run, err := s.factory.Build(ctx, s.logger, exp)
	if err != nil {
		cancel()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	eng := engine.New(s.logger, engine.Config{
		Experiment:  exp,
		Adapter:     adapter,
		Persistence: s.persistence,
		InitialCash: exp.Config.InitialCapital,
	})
	if err := eng.LoadStrategies(exp.Config.StrategiesConfig); err != nil {
		cancel()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now()
	if err := s.persistence.UpdateExperimentStatus(r.Context(), id, types.ExperimentRunning, now); err != nil {
		s.logger.Warn("api: failed to stamp experiment running", zap.String("experimentId", id), zap.Error(err))
	}
	exp.Status = types.ExperimentRunning
	s.hub.BroadcastExperimentStatus(exp)

	s.mu.Lock()
	s.running[id] = &runningExperiment{eng: eng, cancel: cancel}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		}()
		if err := run(ctx, eng); err != nil && ctx.Err() == nil {
			s.logger.Error("api: experiment run loop exited with error", zap.String("experimentId", id), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id, "status": "running"})
}

func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	re, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "experiment not running", http.StatusNotFound)
		return
	}

	re.eng.Stop()
	re.cancel()

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": "stopping"})
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	re, ok := s.running[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "experiment not running", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, re.eng.Portfolio.GetPortfolio())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
