// Package memory provides an in-memory implementation of the persistence backend.
// This backend is primarily intended for testing and development purposes.
package memory

import (
	"context"
	"sync"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Ensure Backend implements all required interfaces.
var (
	_ adapters.Backend       = (*Backend)(nil)
	_ adapters.HealthChecker = (*Backend)(nil)
)

// Backend is an in-memory implementation of adapters.Backend.
// It is thread-safe and suitable for unit testing.
type Backend struct {
	mu             sync.RWMutex
	aggregates     map[string][]adapters.EventRecord
	byType         map[string][]adapters.EventRecord
	globalPosition uint64
	snapshots      map[string]adapters.SnapshotRecord
	closed         bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithEvents seeds the backend with already persisted events.
// Records must be valid batches per aggregate; invalid seeds are skipped.
func WithEvents(records ...adapters.EventRecord) Option {
	return func(b *Backend) {
		for _, r := range records {
			_, _ = b.insertLocked([]adapters.EventRecord{r})
		}
	}
}

// NewBackend creates a new in-memory backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		aggregates: make(map[string][]adapters.EventRecord),
		byType:     make(map[string][]adapters.EventRecord),
		snapshots:  make(map[string]adapters.SnapshotRecord),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Initialize is a no-op for the memory backend.
func (b *Backend) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// InsertEvents stores a batch of events for one aggregate atomically.
func (b *Backend) InsertEvents(ctx context.Context, records []adapters.EventRecord) ([]adapters.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, adapters.ErrClosed
	}

	return b.insertLocked(records)
}

func (b *Backend) insertLocked(records []adapters.EventRecord) ([]adapters.EventRecord, error) {
	if err := adapters.ValidateRecords(records); err != nil {
		return nil, err
	}

	aggregateID := records[0].AggregateID
	existing := b.aggregates[aggregateID]

	// Versions are contiguous per aggregate, so the next free slot is len(existing)+1.
	current := int64(len(existing))
	if records[0].Version <= current {
		return nil, adapters.NewConflictError(aggregateID, records[0].Version)
	}
	if records[0].Version != current+1 {
		return nil, adapters.ErrInvalidVersion
	}

	stored := make([]adapters.EventRecord, len(records))
	for i, r := range records {
		b.globalPosition++
		r = adapters.CopyEventRecord(r)
		r.GlobalPosition = b.globalPosition
		stored[i] = r
	}

	for _, r := range stored {
		b.aggregates[aggregateID] = append(b.aggregates[aggregateID], r)
		b.byType[r.Type] = append(b.byType[r.Type], r)
	}

	return copyRecords(stored), nil
}

// LoadEvents returns events of the aggregate with version >= fromVersion.
func (b *Backend) LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, adapters.ErrClosed
	}

	events := make([]adapters.EventRecord, 0)
	for _, r := range b.aggregates[aggregateID] {
		if r.Version >= fromVersion {
			events = append(events, adapters.CopyEventRecord(r))
		}
	}
	return events, nil
}

// LoadEventsByType returns events of the given type, newest first.
func (b *Backend) LoadEventsByType(ctx context.Context, eventType string, limit int) ([]adapters.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, adapters.ErrClosed
	}

	all := b.byType[eventType]
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}

	events := make([]adapters.EventRecord, 0, n)
	for i := len(all) - 1; i >= 0 && len(events) < n; i-- {
		events = append(events, adapters.CopyEventRecord(all[i]))
	}
	return events, nil
}

// CurrentVersion returns the highest stored version of the aggregate.
func (b *Backend) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, adapters.ErrClosed
	}

	return int64(len(b.aggregates[aggregateID])), nil
}

// UpsertSnapshot replaces the snapshot for the aggregate.
func (b *Backend) UpsertSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if snapshot.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return adapters.ErrClosed
	}

	b.snapshots[snapshot.AggregateID] = adapters.CopySnapshotRecord(snapshot)
	return nil
}

// LoadSnapshot returns the snapshot for the aggregate, or nil if none exists.
func (b *Backend) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, adapters.ErrClosed
	}

	snapshot, ok := b.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	copied := adapters.CopySnapshotRecord(snapshot)
	return &copied, nil
}

// Ping reports whether the backend is open.
func (b *Backend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return adapters.ErrClosed
	}
	return nil
}

// Close marks the backend closed. Subsequent operations return adapters.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}

// Reset clears all data. Useful for testing.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.aggregates = make(map[string][]adapters.EventRecord)
	b.byType = make(map[string][]adapters.EventRecord)
	b.snapshots = make(map[string]adapters.SnapshotRecord)
	b.globalPosition = 0
}

// EventCount returns the total number of events stored.
func (b *Backend) EventCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, events := range b.aggregates {
		n += len(events)
	}
	return n
}

// AggregateCount returns the number of aggregates with at least one event.
func (b *Backend) AggregateCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.aggregates)
}

// SnapshotCount returns the number of stored snapshots.
func (b *Backend) SnapshotCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.snapshots)
}

func copyRecords(records []adapters.EventRecord) []adapters.EventRecord {
	out := make([]adapters.EventRecord, len(records))
	for i, r := range records {
		out[i] = adapters.CopyEventRecord(r)
	}
	return out
}
