// Package sqlite provides a SQLite implementation of the persistence backend
// built on the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Ensure Backend implements required interfaces.
var (
	_ adapters.Backend       = (*Backend)(nil)
	_ adapters.HealthChecker = (*Backend)(nil)
)

// Backend is a SQLite implementation of adapters.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens (or creates) the database at path. Use MemoryDSN for tests.
func Open(path string) (*Backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("stoat/sqlite: storage path is required")
	}

	dsn := path
	if path != MemoryDSN {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("stoat/sqlite: open db: %w", err)
	}
	if path == MemoryDSN {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("stoat/sqlite: ping db: %w", err)
	}

	return &Backend{db: db}, nil
}

// Initialize creates the tables and indexes. It is idempotent.
func (b *Backend) Initialize(ctx context.Context) error {
	if b.closed.Load() {
		return adapters.ErrClosed
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			global_position INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id        TEXT NOT NULL UNIQUE,
			aggregate_id    TEXT NOT NULL,
			aggregate_type  TEXT NOT NULL DEFAULT '',
			event_type      TEXT NOT NULL,
			data            BLOB,
			metadata        BLOB,
			version         INTEGER NOT NULL,
			timestamp       INTEGER NOT NULL,
			UNIQUE(aggregate_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type, global_position)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			aggregate_id    TEXT PRIMARY KEY,
			version         INTEGER NOT NULL,
			state           BLOB,
			timestamp       INTEGER NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("stoat/sqlite: migrate: %w", err)
		}
	}
	return nil
}

// InsertEvents writes a batch for one aggregate in a single transaction.
func (b *Backend) InsertEvents(ctx context.Context, records []adapters.EventRecord) ([]adapters.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, adapters.ErrClosed
	}
	if err := adapters.ValidateRecords(records); err != nil {
		return nil, err
	}
	aggregateID := records[0].AggregateID

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("stoat/sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&current); err != nil {
		return nil, fmt.Errorf("stoat/sqlite: read current version: %w", err)
	}
	if records[0].Version <= current {
		return nil, adapters.NewConflictError(aggregateID, records[0].Version)
	}

	stored := make([]adapters.EventRecord, len(records))
	for i, r := range records {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (event_id, aggregate_id, aggregate_type, event_type, data, metadata, version, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.AggregateID, r.AggregateType, r.Type, r.Data, r.Metadata, r.Version, toNanos(r.Timestamp),
		)
		if err != nil {
			if isVersionConflict(err) {
				return nil, adapters.NewConflictError(aggregateID, r.Version)
			}
			return nil, fmt.Errorf("stoat/sqlite: insert event: %w", err)
		}
		pos, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("stoat/sqlite: read global position: %w", err)
		}
		r.GlobalPosition = uint64(pos)
		stored[i] = r
	}

	if err := tx.Commit(); err != nil {
		if isVersionConflict(err) {
			return nil, adapters.NewConflictError(aggregateID, records[0].Version)
		}
		return nil, fmt.Errorf("stoat/sqlite: commit: %w", err)
	}
	return stored, nil
}

// LoadEvents returns events of the aggregate with version >= fromVersion.
func (b *Backend) LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.EventRecord, error) {
	if b.closed.Load() {
		return nil, adapters.ErrClosed
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE aggregate_id = ? AND version >= ?
		 ORDER BY version`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("stoat/sqlite: load events: %w", err)
	}
	return scanEvents(rows)
}

// LoadEventsByType returns events of the given type, newest first.
func (b *Backend) LoadEventsByType(ctx context.Context, eventType string, limit int) ([]adapters.EventRecord, error) {
	if b.closed.Load() {
		return nil, adapters.ErrClosed
	}
	if limit <= 0 {
		// SQLite treats a negative LIMIT as unbounded.
		limit = -1
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE event_type = ?
		 ORDER BY global_position DESC
		 LIMIT ?`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("stoat/sqlite: load events by type: %w", err)
	}
	return scanEvents(rows)
}

// CurrentVersion returns the highest stored version of the aggregate.
func (b *Backend) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if b.closed.Load() {
		return 0, adapters.ErrClosed
	}

	var version int64
	if err := b.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("stoat/sqlite: read current version: %w", err)
	}
	return version, nil
}

// UpsertSnapshot inserts or replaces the snapshot for the aggregate.
func (b *Backend) UpsertSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if b.closed.Load() {
		return adapters.ErrClosed
	}
	if snapshot.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, version, state, timestamp)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(aggregate_id) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			timestamp = excluded.timestamp`,
		snapshot.AggregateID, snapshot.Version, snapshot.State, toNanos(snapshot.Timestamp))
	if err != nil {
		return fmt.Errorf("stoat/sqlite: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for the aggregate, or nil if none exists.
func (b *Backend) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if b.closed.Load() {
		return nil, adapters.ErrClosed
	}

	var (
		snapshot adapters.SnapshotRecord
		ts       int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT aggregate_id, version, state, timestamp FROM snapshots WHERE aggregate_id = ?`, aggregateID,
	).Scan(&snapshot.AggregateID, &snapshot.Version, &snapshot.State, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stoat/sqlite: load snapshot: %w", err)
	}
	snapshot.Timestamp = fromNanos(ts)
	return &snapshot, nil
}

// Ping checks the database handle.
func (b *Backend) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return adapters.ErrClosed
	}
	return b.db.PingContext(ctx)
}

// Close closes the SQLite handle.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}

const eventColumns = `global_position, event_id, aggregate_id, aggregate_type, event_type, data, metadata, version, timestamp`

func scanEvents(rows *sql.Rows) ([]adapters.EventRecord, error) {
	defer rows.Close()

	events := make([]adapters.EventRecord, 0)
	for rows.Next() {
		var (
			r   adapters.EventRecord
			pos int64
			ts  int64
		)
		if err := rows.Scan(&pos, &r.ID, &r.AggregateID, &r.AggregateType, &r.Type, &r.Data, &r.Metadata, &r.Version, &ts); err != nil {
			return nil, fmt.Errorf("stoat/sqlite: scan event: %w", err)
		}
		r.GlobalPosition = uint64(pos)
		r.Timestamp = fromNanos(ts)
		events = append(events, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stoat/sqlite: iterate events: %w", err)
	}
	return events, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// versionConstraint is how SQLite names the (aggregate_id, version) unique
// constraint in its error messages.
const versionConstraint = "events.aggregate_id, events.version"

// isVersionConflict reports a unique violation on (aggregate_id, version).
// Other constraint failures, such as a duplicate event_id, are not conflicts.
func isVersionConflict(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return strings.Contains(sqliteErr.Error(), versionConstraint)
	}
	return false
}
