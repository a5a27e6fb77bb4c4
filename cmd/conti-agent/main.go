package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conti/internal/api"
	"conti/internal/config"
	"conti/internal/localstore"
	applog "conti/internal/log"
	"conti/internal/syncengine"
	"conti/internal/worker"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Component: applog.ComponentApp,
	})
	applog.SetDefault(logger)

	if cfg.Agent.APIToken == "" {
		logger.Error("API_TOKEN must be set")
		os.Exit(1)
	}

	store, err := localstore.Open(cfg.Agent.CacheDBPath)
	if err != nil {
		logger.Error("Failed to open local cache", "error", err, "path", cfg.Agent.CacheDBPath)
		os.Exit(1)
	}
	defer store.Close()

	client := api.NewClient(cfg.Agent.ServerURL, cfg.Agent.APIToken)

	engine := syncengine.New(store, client, cfg.Agent.DownloadLimit, cfg.Agent.SuccessReset,
		syncengine.WithStateListener(func(state syncengine.State) {
			logger.Info("Sync state changed", "state", string(state))
		}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := worker.NewConnectivityProbe(cfg.Agent.ServerURL+"/healthz", cfg.Agent.SyncInterval/3)
	if err := probe.Start(ctx); err != nil {
		logger.Error("Failed to start connectivity probe", "error", err)
		os.Exit(1)
	}

	syncWorker := worker.NewSyncWorker(engine, probe.Events(), worker.SyncWorkerConfig{
		Interval: cfg.Agent.SyncInterval,
	})
	if err := syncWorker.Start(ctx); err != nil {
		logger.Error("Failed to start sync worker", "error", err)
		os.Exit(1)
	}

	logger.Info("Agent started",
		"server_url", cfg.Agent.ServerURL,
		"sync_interval", cfg.Agent.SyncInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := syncWorker.Stop(shutdownCtx); err != nil {
		logger.Error("Sync worker shutdown error", "error", err)
	}
	if err := probe.Stop(shutdownCtx); err != nil {
		logger.Error("Connectivity probe shutdown error", "error", err)
	}
	cancel()
	logger.Info("Agent stopped gracefully")
}
