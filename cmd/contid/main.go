package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conti/internal/config"
	"conti/internal/events"
	apphttp "conti/internal/http"
	"conti/internal/ledger"
	applog "conti/internal/log"
	"conti/internal/storage"

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

	if cfg.Server.JWTSecret == "" {
		logger.Error("JWT_SECRET must be set")
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.Server.DBPath)
	if err != nil {
		logger.Error("Failed to initialize repository", "error", err, "path", cfg.Server.DBPath)
		os.Exit(1)
	}
	defer repo.Close()

	hub := apphttp.NewHub()
	hub.Start()

	// With a broker configured, ledger events flow through AMQP and a
	// consumer bridges them onto the websocket hub. Without one, the hub
	// is the publisher directly.
	var publisher ledger.Publisher = hub
	var eventsClient *events.Client
	if cfg.AMQP.URL != "" {
		eventsClient, err = events.NewClient(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer eventsClient.Close()
		publisher = eventsClient
		logger.Info("AMQP event publishing enabled", "exchange", cfg.AMQP.Exchange)
	} else {
		logger.Info("AMQP disabled, events go straight to websocket clients")
	}

	svc := ledger.NewService(repo, publisher)
	auth := apphttp.NewAuthenticator(cfg.Server.JWTSecret)

	srv := apphttp.NewServer(":"+cfg.Server.Port, svc, repo, auth, hub)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if eventsClient != nil {
		go func() {
			if err := eventsClient.ConsumeLedgerEvents(ctx, hub.Forward); err != nil && err != context.Canceled {
				logger.Error("Event consumption failed", "error", err)
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting contid server", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Server.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
