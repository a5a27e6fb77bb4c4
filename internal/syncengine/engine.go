// Package syncengine coordinates the agent's two-phase sync: replay
// pending local mutations to the server, then pull the server's snapshot
// back into the cache. Uploads always run before downloads so the snapshot
// reflects this client's own changes.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conti/internal/api"
	"conti/internal/core"
	"conti/internal/localstore"

	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
	StateOffline State = "offline"
)

// UploadOutcome classifies what happened to one pending record.
type UploadOutcome string

const (
	// OutcomeApplied means the server accepted the record.
	OutcomeApplied UploadOutcome = "applied"
	// OutcomeDeferred means the server was unreachable or failing; the
	// record stays pending for the next cycle.
	OutcomeDeferred UploadOutcome = "deferred"
	// OutcomeRejected means the server refused the record outright.
	// Retrying the same payload cannot succeed.
	OutcomeRejected UploadOutcome = "rejected"
)

type UploadResult struct {
	LocalID  string
	ServerID string
	Outcome  UploadOutcome
	Err      error
}

// Report summarizes one sync cycle.
type Report struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Uploaded     []UploadResult
	Downloaded   int
	PendingAfter int
}

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("client is offline")
)

// APIClient is the server surface the engine needs. Narrow so tests can
// substitute a fake.
type APIClient interface {
	Create(ctx context.Context, entityType core.EntityType, payload []byte) (api.Item, error)
	Update(ctx context.Context, entityType core.EntityType, serverID string, payload []byte) (api.Item, error)
	ListTransactions(ctx context.Context, limit int) ([]api.Item, error)
	ListAccounts(ctx context.Context) ([]api.Item, error)
	ListCategories(ctx context.Context) ([]api.Item, error)
}

type Engine struct {
	store  *localstore.Store
	client APIClient

	downloadLimit int
	successReset  time.Duration

	mu     sync.Mutex
	state  State
	online bool

	// onState, when set, observes every state transition.
	onState func(State)
}

type Option func(*Engine)

// WithStateListener registers a callback invoked on each state change.
// The callback runs with the engine lock held; keep it fast.
func WithStateListener(fn func(State)) Option {
	return func(e *Engine) { e.onState = fn }
}

func New(store *localstore.Store, client APIClient, downloadLimit int, successReset time.Duration, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		client:        client,
		downloadLimit: downloadLimit,
		successReset:  successReset,
		state:         StateIdle,
		online:        true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetOnline records a connectivity change and returns true when the change
// should trigger an immediate sync. Mid-sync events only update the flag;
// the running cycle observes it at its next phase boundary.
func (e *Engine) SetOnline(online bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasOnline := e.online
	e.online = online

	if e.state == StateSyncing {
		return false
	}
	if !online {
		e.setStateLocked(StateOffline)
		return false
	}
	if e.state == StateOffline {
		e.setStateLocked(StateIdle)
	}
	return !wasOnline
}

// Sync runs one upload-then-download cycle. Only one cycle runs at a time;
// a concurrent call returns ErrSyncInProgress without touching anything.
func (e *Engine) Sync(ctx context.Context) (Report, error) {
	e.mu.Lock()
	if e.state == StateSyncing {
		e.mu.Unlock()
		return Report{}, ErrSyncInProgress
	}
	if !e.online {
		e.setStateLocked(StateOffline)
		e.mu.Unlock()
		return Report{}, ErrOffline
	}
	e.setStateLocked(StateSyncing)
	e.mu.Unlock()

	report := Report{StartedAt: time.Now().UTC()}

	uploaded, err := e.upload(ctx)
	report.Uploaded = uploaded
	if err != nil {
		e.finish(StateError)
		report.FinishedAt = time.Now().UTC()
		return report, fmt.Errorf("upload phase: %w", err)
	}

	downloaded, err := e.download(ctx)
	report.Downloaded = downloaded
	if err != nil {
		e.finish(StateError)
		report.FinishedAt = time.Now().UTC()
		return report, fmt.Errorf("download phase: %w", err)
	}

	if err := e.store.SetCursor(ctx, time.Now().UTC()); err != nil {
		slog.Error("Failed to persist sync cursor", "error", err)
	}

	if report.PendingAfter, err = e.store.PendingCount(ctx); err != nil {
		slog.Error("Failed to count pending records", "error", err)
	}

	e.finish(StateSuccess)
	if e.successReset > 0 {
		time.AfterFunc(e.successReset, e.resetSuccess)
	}

	report.FinishedAt = time.Now().UTC()
	slog.Info("Sync cycle completed",
		"uploaded", len(report.Uploaded),
		"downloaded", report.Downloaded,
		"pending_after", report.PendingAfter,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds())
	return report, nil
}

// uploadOrder replays parents before children so a transaction created
// offline never reaches the server ahead of the account it spends from.
var uploadOrder = []core.EntityType{core.EntityAccount, core.EntityCategory, core.EntityTransaction}

func (e *Engine) upload(ctx context.Context) ([]UploadResult, error) {
	var results []UploadResult

	// Server identifiers assigned to offline creates, keyed by local
	// identifier. Loaded from the store so a record deferred in an earlier
	// cycle still resolves references assigned before it was retried.
	idMap, err := e.store.IDMappings(ctx)
	if err != nil {
		return results, err
	}

	for _, entityType := range uploadOrder {
		pending, err := e.store.ListPending(ctx, entityType)
		if err != nil {
			return results, err
		}
		for _, rec := range pending {
			res := e.uploadOne(ctx, rec, idMap)
			results = append(results, res)
			if res.Outcome == OutcomeApplied && rec.ServerID == "" {
				idMap[rec.LocalID] = res.ServerID
				if err := e.store.SaveIDMapping(ctx, rec.LocalID, res.ServerID); err != nil {
					slog.Error("Failed to persist id mapping",
						"local_id", rec.LocalID,
						"server_id", res.ServerID,
						"error", err)
				}
			}
		}
	}
	return results, nil
}

// uploadOne pushes a single pending record. Failures never abort the
// batch; each record settles on its own outcome.
func (e *Engine) uploadOne(ctx context.Context, rec localstore.Record, idMap map[string]string) UploadResult {
	result := UploadResult{LocalID: rec.LocalID, ServerID: rec.ServerID}

	payload := rewriteLocalRefs(rec.Payload, idMap)

	var (
		item api.Item
		err  error
	)
	if rec.ServerID == "" {
		item, err = e.client.Create(ctx, rec.EntityType, payload)
	} else {
		item, err = e.client.Update(ctx, rec.EntityType, rec.ServerID, payload)
	}

	if err != nil {
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) {
			result.Outcome = OutcomeRejected
		} else {
			result.Outcome = OutcomeDeferred
		}
		result.Err = err
		slog.Warn("Upload failed for record",
			"local_id", rec.LocalID,
			"entity_type", rec.EntityType,
			"outcome", result.Outcome,
			"error", err)
		return result
	}

	result.Outcome = OutcomeApplied
	result.ServerID = item.ID
	if err := e.store.Reconcile(ctx, rec.LocalID, item.ID); err != nil {
		slog.Error("Failed to reconcile uploaded record",
			"local_id", rec.LocalID,
			"server_id", item.ID,
			"error", err)
	}
	return result
}

// rewriteLocalRefs swaps local identifiers for their freshly assigned
// server counterparts inside a JSON payload. Only reference fields are
// touched. Payloads with no local references pass through unchanged.
func rewriteLocalRefs(payload []byte, idMap map[string]string) []byte {
	if len(idMap) == 0 {
		return payload
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return payload
	}

	changed := false
	for _, field := range []string{"accountId", "targetAccountId", "categoryId"} {
		if v, ok := body[field].(string); ok {
			if serverID, ok := idMap[v]; ok {
				body[field] = serverID
				changed = true
			}
		}
	}
	if !changed {
		return payload
	}

	rewritten, err := json.Marshal(body)
	if err != nil {
		return payload
	}
	return rewritten
}

// download pulls all three collections concurrently and installs them as
// the cache's synced state in one atomic swap.
func (e *Engine) download(ctx context.Context) (int, error) {
	var (
		transactions []api.Item
		accounts     []api.Item
		categories   []api.Item
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		transactions, err = e.client.ListTransactions(gctx, e.downloadLimit)
		return err
	})
	g.Go(func() error {
		var err error
		accounts, err = e.client.ListAccounts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		categories, err = e.client.ListCategories(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	collections := map[core.EntityType][]localstore.Record{
		core.EntityTransaction: itemsToRecords(core.EntityTransaction, transactions),
		core.EntityAccount:     itemsToRecords(core.EntityAccount, accounts),
		core.EntityCategory:    itemsToRecords(core.EntityCategory, categories),
	}
	if err := e.store.ReplaceCollections(ctx, collections); err != nil {
		return 0, err
	}
	return len(transactions) + len(accounts) + len(categories), nil
}

func itemsToRecords(entityType core.EntityType, items []api.Item) []localstore.Record {
	records := make([]localstore.Record, 0, len(items))
	for _, item := range items {
		records = append(records, localstore.Record{
			LocalID:    item.ID,
			ServerID:   item.ID,
			EntityType: entityType,
			Payload:    item.Body,
			SyncStatus: core.StatusSynced,
			UpdatedAt:  item.UpdatedAt,
		})
	}
	return records
}

func (e *Engine) finish(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.online {
		e.setStateLocked(StateOffline)
		return
	}
	e.setStateLocked(state)
}

// resetSuccess returns the engine to idle after the success state has been
// visible long enough for a UI to show it.
func (e *Engine) resetSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateSuccess {
		e.setStateLocked(StateIdle)
	}
}

func (e *Engine) setStateLocked(state State) {
	if e.state == state {
		return
	}
	e.state = state
	if e.onState != nil {
		e.onState(state)
	}
}
