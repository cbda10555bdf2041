// Package postgres provides a PostgreSQL implementation of the persistence backend.
//
// Versions are protected twice: appends lock the per-aggregate row in the
// streams table with SELECT ... FOR UPDATE, and the events table carries a
// UNIQUE(aggregate_id, version) constraint. A unique violation from either
// table is reported as adapters.ErrVersionConflict.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// DefaultSchema is the schema used when WithSchema is not given.
const DefaultSchema = "stoat"

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Ensure Backend implements required interfaces.
var (
	_ adapters.Backend       = (*Backend)(nil)
	_ adapters.HealthChecker = (*Backend)(nil)
)

// Backend is a PostgreSQL implementation of adapters.Backend.
type Backend struct {
	db     *sql.DB
	schema string
	driver string
	closed atomic.Bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(b *Backend) {
		b.schema = schema
	}
}

// WithDriver selects the database/sql driver used by NewBackend.
// "pgx" (default) uses jackc/pgx; "postgres" uses lib/pq.
func WithDriver(driver string) Option {
	return func(b *Backend) {
		b.driver = driver
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(b *Backend) {
		if b.db != nil {
			b.db.SetMaxOpenConns(n)
		}
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(b *Backend) {
		if b.db != nil {
			b.db.SetConnMaxLifetime(d)
		}
	}
}

// NewBackend opens a PostgreSQL backend for the given connection string.
func NewBackend(connStr string, opts ...Option) (*Backend, error) {
	b := &Backend{schema: DefaultSchema, driver: "pgx"}

	// First pass picks the driver; connection options need the *sql.DB.
	for _, opt := range opts {
		opt(b)
	}

	db, err := sql.Open(b.driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("stoat/postgres: failed to open database: %w", err)
	}
	b.db = db

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// NewBackendWithDB creates a backend over an existing connection pool.
// The pool may be opened with either the pgx or the lib/pq driver.
func NewBackendWithDB(db *sql.DB, opts ...Option) *Backend {
	b := &Backend{db: db, schema: DefaultSchema, driver: "pgx"}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// DB returns the underlying connection pool.
func (b *Backend) DB() *sql.DB {
	return b.db
}

func (b *Backend) table(name string) string {
	return pgx.Identifier{b.schema, name}.Sanitize()
}

// Initialize creates the schema, tables and indexes. It is idempotent.
func (b *Backend) Initialize(ctx context.Context) error {
	if b.closed.Load() {
		return adapters.ErrClosed
	}

	statements := []struct {
		what string
		sql  string
	}{
		{"schema", fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{b.schema}.Sanitize())},
		{"streams table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				aggregate_id    TEXT PRIMARY KEY,
				version         BIGINT NOT NULL DEFAULT 0,
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, b.table("streams"))},
		{"events table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				global_position BIGSERIAL PRIMARY KEY,
				event_id        TEXT NOT NULL UNIQUE,
				aggregate_id    TEXT NOT NULL,
				aggregate_type  TEXT NOT NULL DEFAULT '',
				event_type      TEXT NOT NULL,
				data            BYTEA,
				metadata        BYTEA,
				version         BIGINT NOT NULL,
				timestamp       TIMESTAMPTZ NOT NULL,
				UNIQUE(aggregate_id, version)
			)`, b.table("events"))},
		{"type index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s(event_type, global_position DESC)`, b.table("events"))},
		{"snapshots table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				aggregate_id    TEXT PRIMARY KEY,
				version         BIGINT NOT NULL,
				state           BYTEA,
				timestamp       TIMESTAMPTZ NOT NULL
			)`, b.table("snapshots"))},
	}

	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("stoat/postgres: failed to create %s: %w", stmt.what, err)
		}
	}
	return nil
}

// InsertEvents writes a batch for one aggregate in a single transaction.
func (b *Backend) InsertEvents(ctx context.Context, records []adapters.EventRecord) ([]adapters.EventRecord, error) {
	if b.closed.Load() {
		return nil, adapters.ErrClosed
	}

	if err := adapters.ValidateRecords(records); err != nil {
		return nil, err
	}
	aggregateID := records[0].AggregateID
	first := records[0].Version

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("stoat/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s
		WHERE aggregate_id = $1
		FOR UPDATE`, b.table("streams")), aggregateID).Scan(&current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// A concurrent first append for the same aggregate loses on the primary key.
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (aggregate_id, version) VALUES ($1, 0)`, b.table("streams")), aggregateID)
		if err != nil {
			return nil, b.wrap("failed to create stream", aggregateID, first, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stoat/postgres: failed to lock stream: %w", err)
	}

	if first <= current {
		return nil, adapters.NewConflictError(aggregateID, first)
	}

	stored := make([]adapters.EventRecord, len(records))
	for i, r := range records {
		// TIMESTAMPTZ keeps microseconds; return what a later read will see.
		r.Timestamp = r.Timestamp.UTC().Truncate(time.Microsecond)
		err := tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (event_id, aggregate_id, aggregate_type, event_type, data, metadata, version, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING global_position`, b.table("events")),
			r.ID, r.AggregateID, r.AggregateType, r.Type, r.Data, r.Metadata, r.Version, r.Timestamp,
		).Scan(&r.GlobalPosition)
		if err != nil {
			return nil, b.wrap("failed to insert event", aggregateID, r.Version, err)
		}
		stored[i] = r
	}

	last := records[len(records)-1].Version
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET version = $1, updated_at = NOW()
		WHERE aggregate_id = $2`, b.table("streams")), last, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("stoat/postgres: failed to update stream version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, b.wrap("failed to commit transaction", aggregateID, first, err)
	}

	return stored, nil
}

// LoadEvents returns events of the aggregate with version >= fromVersion.
func (b *Backend) LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.EventRecord, error) {
	if b.closed.Load() {
		return nil, adapters.ErrClosed
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE aggregate_id = $1 AND version >= $2
		ORDER BY version`, eventColumns, b.table("events")), aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("stoat/postgres: failed to load events: %w", err)
	}
	return scanEvents(rows)
}

// LoadEventsByType returns events of the given type, newest first.
func (b *Backend) LoadEventsByType(ctx context.Context, eventType string, limit int) ([]adapters.EventRecord, error) {
	if b.closed.Load() {
		return nil, adapters.ErrClosed
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE event_type = $1
		ORDER BY global_position DESC`, eventColumns, b.table("events"))
	args := []interface{}{eventType}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stoat/postgres: failed to load events by type: %w", err)
	}
	return scanEvents(rows)
}

// CurrentVersion returns the highest stored version of the aggregate.
func (b *Backend) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if b.closed.Load() {
		return 0, adapters.ErrClosed
	}

	var version int64
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(version), 0) FROM %s
		WHERE aggregate_id = $1`, b.table("events")), aggregateID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("stoat/postgres: failed to read current version: %w", err)
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

	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (aggregate_id, version, state, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			timestamp = EXCLUDED.timestamp`, b.table("snapshots")),
		snapshot.AggregateID, snapshot.Version, snapshot.State, snapshot.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("stoat/postgres: failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for the aggregate, or nil if none exists.
func (b *Backend) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if b.closed.Load() {
		return nil, adapters.ErrClosed
	}

	var snapshot adapters.SnapshotRecord
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT aggregate_id, version, state, timestamp
		FROM %s
		WHERE aggregate_id = $1`, b.table("snapshots")), aggregateID).Scan(
		&snapshot.AggregateID,
		&snapshot.Version,
		&snapshot.State,
		&snapshot.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stoat/postgres: failed to load snapshot: %w", err)
	}
	return &snapshot, nil
}

// Ping checks database connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return adapters.ErrClosed
	}
	return b.db.PingContext(ctx)
}

// Close releases the database connection.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}

// wrap maps unique violations to a conflict and wraps everything else.
func (b *Backend) wrap(op, aggregateID string, version int64, err error) error {
	if IsUniqueViolation(err) {
		return fmt.Errorf("stoat/postgres: %s: %w", op, adapters.NewConflictError(aggregateID, version))
	}
	return fmt.Errorf("stoat/postgres: %s: %w", op, err)
}

// IsUniqueViolation reports whether err is a unique_violation raised through
// either the pgx or the lib/pq driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

const eventColumns = `global_position, event_id, aggregate_id, aggregate_type, event_type, data, metadata, version, timestamp`

func scanEvents(rows *sql.Rows) ([]adapters.EventRecord, error) {
	defer rows.Close()

	events := make([]adapters.EventRecord, 0)
	for rows.Next() {
		var r adapters.EventRecord
		if err := rows.Scan(
			&r.GlobalPosition,
			&r.ID,
			&r.AggregateID,
			&r.AggregateType,
			&r.Type,
			&r.Data,
			&r.Metadata,
			&r.Version,
			&r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("stoat/postgres: failed to scan event: %w", err)
		}
		events = append(events, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stoat/postgres: error iterating events: %w", err)
	}
	return events, nil
}
