// Polymarket Compounder — an autonomous trading agent that grows a small
// USDC balance on Polymarket binary prediction markets by stacking
// strategies as the balance crosses phase thresholds.
//
// Architecture:
//
//	main.go              — entry point: loads .env + config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: polls balance, derives the phase, runs strategies each cycle
//	strategy/sum_to_one.go — buys YES+NO when the asks sum below $1 (risk-free at resolution)
//	strategy/resolution.go — buys near-certain outcomes trading at a discount close to resolution
//	strategy/sniper.go   — takes mispriced quotes in freshly listed markets
//	strategy/directional.go — volatility-model entries on BTC threshold markets
//	market/catalog.go    — polls Gamma API for active binary markets, caches + diffs for new listings
//	oracle/oracle.go     — CoinGecko/Binance spot + klines behind per-source circuit breakers
//	exchange/client.go   — REST client for the Polymarket CLOB API + on-chain USDC balance
//	exchange/auth.go     — L1 (EIP-712) and L2 (HMAC) authentication for the Polymarket API
//	orders/coordinator.go — order tickets, paired-order monitoring, partial-fill unwind
//	ledger/ledger.go     — open positions, trade history, win/loss streaks
//	risk/manager.go      — position sizing, drawdown cooldowns, recovery half-sizing
//	journal/journal.go   — CSV trade log plus daily/weekly Telegram summaries
//	store/store.go       — JSON file persistence for the ledger (survives restarts)
//
// How it compounds:
//
//	Profits are never withdrawn; every cycle re-reads the wallet balance, so
//	position sizes (percent of balance) and the active phase grow with the
//	account. Phase 1 runs only the two arbitrage strategies. At $250 the
//	sniper joins, at $500 the directional engine. A losing streak or a daily
//	drawdown pauses trading and re-enters at half size until wins confirm
//	the edge is back.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"polymarket-compounder/internal/api"
	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/engine"
)

func main() {
	// Secrets come from the environment; .env is a convenience for local runs.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("COMPOUNDER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Startup failures (self-test, unfunded wallet in live mode) abort here.
	if err := eng.Setup(context.Background()); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	// Start dashboard API server if enabled
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	eng.Start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop dashboard first
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}

// newLogger builds the root logger. With a file configured, logs go to both
// stdout and the file so systemd journals and on-disk logs stay in sync.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	var w io.Writer = os.Stdout
	closeLog := func() {}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closeLog = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closeLog, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
