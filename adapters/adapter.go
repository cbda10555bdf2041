// Package adapters defines the persistence backend contract used by the event store.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for backend implementations.
// Backends should return these (or errors that match via errors.Is)
// so the event store can classify failures consistently.
var (
	// ErrVersionConflict is returned when a record with the same
	// (aggregate_id, version) pair is already stored.
	ErrVersionConflict = errors.New("stoat: version conflict")

	// ErrEmptyAggregateID is returned when a record has no aggregate ID.
	ErrEmptyAggregateID = errors.New("stoat: aggregate ID is required")

	// ErrNoRecords is returned when InsertEvents is called with nothing to insert.
	ErrNoRecords = errors.New("stoat: no records to insert")

	// ErrInvalidVersion is returned when a record carries a non-positive version.
	ErrInvalidVersion = errors.New("stoat: invalid version")

	// ErrClosed is returned when operations are attempted on a closed backend.
	ErrClosed = errors.New("stoat: backend is closed")
)

// Backend is the narrow persistence contract behind the event store.
//
// Two logical collections are required: events and snapshots.
// Data, Metadata and State are opaque blobs and must round-trip exactly.
type Backend interface {
	// InsertEvents durably writes records in a single all-or-nothing operation.
	// Records must already carry their version. A duplicate (aggregate_id, version)
	// pair must fail with ErrVersionConflict and leave nothing written.
	// The returned records carry the backend-assigned GlobalPosition.
	InsertEvents(ctx context.Context, records []EventRecord) ([]EventRecord, error)

	// LoadEvents returns the events of one aggregate with version >= fromVersion,
	// ordered by version ascending. An unknown aggregate yields an empty slice.
	LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]EventRecord, error)

	// LoadEventsByType returns events of the given type across all aggregates,
	// newest first. A limit <= 0 returns every matching event.
	LoadEventsByType(ctx context.Context, eventType string, limit int) ([]EventRecord, error)

	// CurrentVersion returns the highest stored version for the aggregate, or 0.
	CurrentVersion(ctx context.Context, aggregateID string) (int64, error)

	// UpsertSnapshot inserts or replaces the snapshot keyed by its aggregate ID.
	UpsertSnapshot(ctx context.Context, snapshot SnapshotRecord) error

	// LoadSnapshot returns the snapshot for the aggregate, or nil, nil if none exists.
	LoadSnapshot(ctx context.Context, aggregateID string) (*SnapshotRecord, error)

	// Initialize prepares the storage schema. It must be idempotent.
	Initialize(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// HealthChecker is an optional interface for backends that can report liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// EventRecord is the persisted shape of an event.
type EventRecord struct {
	ID             string
	AggregateID    string
	AggregateType  string
	Type           string
	Data           []byte
	Metadata       []byte
	Version        int64
	GlobalPosition uint64
	Timestamp      time.Time
}

// SnapshotRecord is the persisted shape of a snapshot.
type SnapshotRecord struct {
	AggregateID string
	State       []byte
	Version     int64
	Timestamp   time.Time
}
