// Package localstore is the agent's offline cache. Every record carries a
// client-generated local identifier and a sync status; mutations made while
// offline stay pending until the server acknowledges them.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"conti/internal/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Record is one cached entity. Payload holds the wire-format JSON body so
// the store stays agnostic of entity shape.
type Record struct {
	LocalID    string
	ServerID   string
	EntityType core.EntityType
	Payload    []byte
	SyncStatus core.SyncStatus
	UpdatedAt  time.Time
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	local_id    TEXT PRIMARY KEY,
	server_id   TEXT NOT NULL DEFAULT '',
	entity_type TEXT NOT NULL,
	payload     BLOB NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_entity_status ON records(entity_type, sync_status);
CREATE INDEX IF NOT EXISTS idx_records_server_id ON records(server_id);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Open creates the cache database, applying the schema if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a record. A zero LocalID gets one assigned; a zero SyncStatus
// defaults to pending, which is what every offline mutation wants.
func (s *Store) Put(ctx context.Context, rec Record) (Record, error) {
	if !rec.EntityType.Valid() {
		return Record{}, fmt.Errorf("put record: unknown entity type %q", rec.EntityType)
	}
	if rec.LocalID == "" {
		rec.LocalID = uuid.NewString()
	}
	if rec.SyncStatus == "" {
		rec.SyncStatus = core.StatusPending
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (local_id, server_id, entity_type, payload, sync_status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(local_id) DO UPDATE SET
			server_id   = excluded.server_id,
			payload     = excluded.payload,
			sync_status = excluded.sync_status,
			updated_at  = excluded.updated_at`,
		rec.LocalID, rec.ServerID, string(rec.EntityType), rec.Payload,
		string(rec.SyncStatus), rec.UpdatedAt.Format(timeLayout))
	if err != nil {
		return Record{}, fmt.Errorf("put record: %w", err)
	}
	return rec, nil
}

// Get returns a record by local identifier.
func (s *Store) Get(ctx context.Context, localID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT local_id, server_id, entity_type, payload, sync_status, updated_at
		 FROM records WHERE local_id = ?`, localID)
	return scanRecord(row)
}

// List returns every cached record of the given entity type.
func (s *Store) List(ctx context.Context, entityType core.EntityType) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, server_id, entity_type, payload, sync_status, updated_at
		 FROM records WHERE entity_type = ? ORDER BY updated_at DESC`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListPending returns the pending records of one entity type, oldest first
// so uploads replay in the order the user made them.
func (s *Store) ListPending(ctx context.Context, entityType core.EntityType) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, server_id, entity_type, payload, sync_status, updated_at
		 FROM records WHERE entity_type = ? AND sync_status = ?
		 ORDER BY updated_at ASC`, string(entityType), string(core.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// PendingCount counts pending records across all entity types.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE sync_status = ?`,
		string(core.StatusPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending records: %w", err)
	}
	return n, nil
}

// Reconcile marks a record as acknowledged by the server, attaching the
// server identifier. Reconciling an already synced record is a no-op, so
// retried uploads stay harmless.
func (s *Store) Reconcile(ctx context.Context, localID, serverID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE records SET server_id = ?, sync_status = ? WHERE local_id = ?`,
		serverID, string(core.StatusSynced), localID)
	if err != nil {
		return fmt.Errorf("reconcile record %s: %w", localID, err)
	}
	return nil
}

// Delete removes a record from the cache.
func (s *Store) Delete(ctx context.Context, localID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", localID, err)
	}
	return nil
}

// ReplaceCollections swaps the synced portion of the cached collections
// for the server's authoritative snapshot in one transaction. Either every
// collection is replaced or none is; a crash mid-download never leaves a
// mixed cache. Pending rows are kept and shadow the server copy until
// their upload lands.
func (s *Store) ReplaceCollections(ctx context.Context, collections map[core.EntityType][]Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for entityType, records := range collections {
		if !entityType.Valid() {
			return fmt.Errorf("replace collections: unknown entity type %q", entityType)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE entity_type = ? AND sync_status = ?`,
			string(entityType), string(core.StatusSynced)); err != nil {
			return fmt.Errorf("clear %s: %w", entityType, err)
		}
		for _, rec := range records {
			localID := rec.LocalID
			if localID == "" {
				localID = rec.ServerID
			}
			updatedAt := rec.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = now
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO records (local_id, server_id, entity_type, payload, sync_status, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(local_id) DO NOTHING`,
				localID, rec.ServerID, string(entityType), rec.Payload,
				string(core.StatusSynced), updatedAt.Format(timeLayout)); err != nil {
				return fmt.Errorf("insert %s record: %w", entityType, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

const (
	cursorKey   = "last_sync_time"
	idMapPrefix = "idmap:"
)

// SaveIDMapping records that an offline-created record's local identifier
// was assigned the given server identifier. The mapping outlives the sync
// cycle that produced it: a dependent record deferred this cycle must still
// resolve the reference when it is retried later.
func (s *Store) SaveIDMapping(ctx context.Context, localID, serverID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		idMapPrefix+localID, serverID)
	if err != nil {
		return fmt.Errorf("save id mapping %s: %w", localID, err)
	}
	return nil
}

// IDMappings returns every recorded local-to-server identifier assignment.
func (s *Store) IDMappings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM meta WHERE key LIKE ?`, idMapPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list id mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan id mapping: %w", err)
		}
		out[strings.TrimPrefix(key, idMapPrefix)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate id mappings: %w", err)
	}
	return out, nil
}

// Cursor returns the last successful sync time, or the zero time when the
// cache has never completed a sync.
func (s *Store) Cursor(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, cursorKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read sync cursor: %w", err)
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sync cursor: %w", err)
	}
	return t, nil
}

// SetCursor persists the sync cursor. The cursor only moves forward; a
// value older than the stored one is ignored.
func (s *Store) SetCursor(ctx context.Context, t time.Time) error {
	current, err := s.Cursor(ctx)
	if err != nil {
		return err
	}
	if t.Before(current) {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		cursorKey, t.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("write sync cursor: %w", err)
	}
	return nil
}

// Clear wipes every record and the cursor. Used on logout.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta`); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		entity    string
		status    string
		updatedAt string
	)
	err := row.Scan(&rec.LocalID, &rec.ServerID, &entity, &rec.Payload, &status, &updatedAt)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("record: %w", core.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.EntityType = core.EntityType(entity)
	rec.SyncStatus = core.SyncStatus(status)
	if rec.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Record{}, fmt.Errorf("parse record timestamp: %w", err)
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
