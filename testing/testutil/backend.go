package testutil

import (
	"context"
	"sync"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
)

// Operation names accepted by FailingBackend.FailOn.
const (
	OpInsert         = "insert"
	OpLoad           = "load"
	OpLoadByType     = "load_by_type"
	OpCurrentVersion = "current_version"
	OpSaveSnapshot   = "save_snapshot"
	OpLoadSnapshot   = "load_snapshot"
)

// FailingBackend wraps an in-memory backend and fails chosen operations on demand.
type FailingBackend struct {
	*memory.Backend

	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

var _ adapters.Backend = (*FailingBackend)(nil)

// NewFailingBackend creates a FailingBackend that initially passes every call through.
func NewFailingBackend() *FailingBackend {
	return &FailingBackend{
		Backend: memory.NewBackend(),
		fail:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// FailOn makes every later call of op return err. A nil err clears the failure.
func (b *FailingBackend) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fail, op)
		return
	}
	b.fail[op] = err
}

// Reset clears all injected failures and call counts.
func (b *FailingBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = make(map[string]error)
	b.calls = make(map[string]int)
}

// Calls returns how many times op was invoked, failed calls included.
func (b *FailingBackend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *FailingBackend) enter(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	return b.fail[op]
}

func (b *FailingBackend) InsertEvents(ctx context.Context, records []adapters.EventRecord) ([]adapters.EventRecord, error) {
	if err := b.enter(OpInsert); err != nil {
		return nil, err
	}
	return b.Backend.InsertEvents(ctx, records)
}

func (b *FailingBackend) LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.EventRecord, error) {
	if err := b.enter(OpLoad); err != nil {
		return nil, err
	}
	return b.Backend.LoadEvents(ctx, aggregateID, fromVersion)
}

func (b *FailingBackend) LoadEventsByType(ctx context.Context, eventType string, limit int) ([]adapters.EventRecord, error) {
	if err := b.enter(OpLoadByType); err != nil {
		return nil, err
	}
	return b.Backend.LoadEventsByType(ctx, eventType, limit)
}

func (b *FailingBackend) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := b.enter(OpCurrentVersion); err != nil {
		return 0, err
	}
	return b.Backend.CurrentVersion(ctx, aggregateID)
}

func (b *FailingBackend) UpsertSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if err := b.enter(OpSaveSnapshot); err != nil {
		return err
	}
	return b.Backend.UpsertSnapshot(ctx, snapshot)
}

func (b *FailingBackend) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if err := b.enter(OpLoadSnapshot); err != nil {
		return nil, err
	}
	return b.Backend.LoadSnapshot(ctx, aggregateID)
}
