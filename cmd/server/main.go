// Package main provides the entry point for the trading backend server: a
// scheduler that evaluates strategies over monitored tokens and executes
// trades across virtual, backtest, and live experiment modes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/api"
	"github.com/atlas-desktop/trading-backend/internal/blockchain"
	"github.com/atlas-desktop/trading-backend/internal/data"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (optional)")
	host := flag.String("host", "0.0.0.0", "Server host")
	port := flag.Int("port", 8080, "Server port")
	dataDir := flag.String("data", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	denylistPath := flag.String("denylist", "", "Path to a JSON array of denylisted creator addresses")
	listingURL := flag.String("listing-url", "https://api.example-dex-aggregator.io/v1/new-pairs", "New-pairs listing endpoint")
	flag.Parse()

	v := loadConfig(*configFile)

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	host = overrideString(host, v, "server.host")
	port = overrideInt(port, v, "server.port")
	dataDir = overrideString(dataDir, v, "server.dataDir")

	logger.Info("starting trading backend",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.String("dataDir", *dataDir),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := data.NewStore(logger, *dataDir)
	if err != nil {
		logger.Fatal("failed to initialize data store", zap.Error(err))
	}

	marketData := data.NewRateLimitedMarketData(
		logger,
		data.NewStreamingMarketData(logger, data.DefaultStreamConfig()),
		v.GetFloat64("marketData.callsPerSecond"),
	)

	listingSource := data.NewHTTPListingSource(logger, data.ListingSourceConfig{
		URL:        *listingURL,
		Blockchain: v.GetString("listing.defaultBlockchain"),
	})

	denylist, err := data.NewStaticDenylist(logger, *denylistPath)
	if err != nil {
		logger.Fatal("failed to load denylist", zap.Error(err))
	}

	chains := make(map[string]chainTraders)
	if rpcURL := getEnvOrDefault("SOLANA_RPC_URL", ""); rpcURL != "" {
		solanaClient := blockchain.NewSolanaClient(logger, &blockchain.SolanaConfig{
			RPCURL: rpcURL,
			WSURL:  getEnvOrDefault("SOLANA_WS_URL", ""),
		})
		if err := solanaClient.Connect(ctx); err != nil {
			logger.Warn("solana client failed to connect, live trading on solana unavailable", zap.Error(err))
		} else {
			chains["solana"] = buildSolanaChain(logger, solanaClient, "solana-primary")
		}
	}
	if rpcURL := getEnvOrDefault("ETH_RPC_URL", ""); rpcURL != "" {
		evmClient := blockchain.NewEVMClient(logger, &blockchain.EVMConfig{
			Chain:  "ethereum",
			RPCURL: rpcURL,
			WSURL:  getEnvOrDefault("ETH_WS_URL", ""),
		})
		if err := evmClient.Connect(ctx); err != nil {
			logger.Warn("evm client failed to connect, live trading on ethereum unavailable", zap.Error(err))
		} else {
			chains["ethereum"] = buildEVMChain(logger, evmClient, "ethereum-primary")
		}
	}

	factory := &engineFactory{
		listing:     listingSource,
		marketData:  marketData,
		persistence: store,
		denylist:    denylist,
		walletAddr:  getEnvOrDefault("WALLET_ADDRESS", ""),
		chains:      chains,
	}

	serverConfig := &types.ServerConfig{
		Host:           *host,
		Port:           *port,
		WebSocketPath:  "/ws",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxConnections: 100,
		EnableMetrics:  true,
		MetricsPort:    9090,
	}

	server := api.NewServer(logger, serverConfig, store, factory)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	logger.Info("server started",
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", *host, *port)),
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", *host, *port)),
		zap.Int("liveChains", len(chains)),
	)

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// loadConfig reads an optional YAML file plus TRADING_-prefixed
// environment variables into a viper instance. A missing/unset config
// file is not an error: flags and env vars alone are a valid deployment.
func loadConfig(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TRADING")
	v.AutomaticEnv()
	v.SetDefault("marketData.callsPerSecond", 5.0)
	v.SetDefault("listing.defaultBlockchain", "solana")

	if path == "" {
		return v
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to read config file %s: %v\n", path, err)
	}
	return v
}

func overrideString(flagVal *string, v *viper.Viper, key string) *string {
	if v.IsSet(key) {
		val := v.GetString(key)
		return &val
	}
	return flagVal
}

func overrideInt(flagVal *int, v *viper.Viper, key string) *int {
	if v.IsSet(key) {
		val := v.GetInt(key)
		return &val
	}
	return flagVal
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
