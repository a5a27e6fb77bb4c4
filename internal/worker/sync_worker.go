// Package worker drives the agent's sync engine: a periodic timer, an
// immediate run on startup and on reconnect, and graceful shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conti/internal/syncengine"
)

// SyncWorkerConfig holds configuration for the background sync loop.
type SyncWorkerConfig struct {
	// Interval is how often a sync cycle runs (default: 30s).
	Interval time.Duration
}

func DefaultSyncWorkerConfig() SyncWorkerConfig {
	return SyncWorkerConfig{Interval: 30 * time.Second}
}

// SyncWorker runs the engine on a schedule and reacts to connectivity
// changes delivered through Connectivity.
type SyncWorker struct {
	engine *syncengine.Engine
	config SyncWorkerConfig

	// Connectivity events; true means online. Nil disables the watcher.
	connectivity <-chan bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncWorker(engine *syncengine.Engine, connectivity <-chan bool, config SyncWorkerConfig) *SyncWorker {
	if config.Interval <= 0 {
		config.Interval = DefaultSyncWorkerConfig().Interval
	}
	return &SyncWorker{
		engine:       engine,
		config:       config,
		connectivity: connectivity,
	}
}

// Start begins the sync loop. Returns an error if already running.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	slog.InfoContext(ctx, "Sync worker started", "interval", w.config.Interval)
	return nil
}

// Stop gracefully stops the worker and waits for the loop to exit.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		slog.InfoContext(ctx, "Sync worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// IsRunning reports whether the loop is active.
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *SyncWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Sync immediately on startup
	w.runSync(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runSync(ctx)
		case online, ok := <-w.connectivity:
			if !ok {
				w.connectivity = nil
				continue
			}
			if w.engine.SetOnline(online) {
				slog.InfoContext(ctx, "Connection restored, syncing")
				w.runSync(ctx)
			}
		}
	}
}

func (w *SyncWorker) runSync(ctx context.Context) {
	report, err := w.engine.Sync(ctx)
	switch {
	case errors.Is(err, syncengine.ErrSyncInProgress):
		// A cycle is already running; the ticker will come around again.
	case errors.Is(err, syncengine.ErrOffline):
		slog.DebugContext(ctx, "Skipping sync while offline")
	case err != nil:
		slog.ErrorContext(ctx, "Sync cycle failed",
			"uploaded", len(report.Uploaded),
			"error", err)
	}
}
