package stoat

import (
	"context"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Snapshot is a materialized aggregate state at a specific version.
type Snapshot struct {
	AggregateID string
	State       []byte
	Version     int64
	Timestamp   time.Time
}

func snapshotFromRecord(r adapters.SnapshotRecord) Snapshot {
	return Snapshot{
		AggregateID: r.AggregateID,
		State:       r.State,
		Version:     r.Version,
		Timestamp:   r.Timestamp,
	}
}

func (s Snapshot) record() adapters.SnapshotRecord {
	return adapters.SnapshotRecord{
		AggregateID: s.AggregateID,
		State:       s.State,
		Version:     s.Version,
		Timestamp:   s.Timestamp,
	}
}

func (s Snapshot) clone() Snapshot {
	return snapshotFromRecord(adapters.CopySnapshotRecord(s.record()))
}

// SnapshotCache sits in front of the backend's snapshot collection.
//
// Get reports a miss with ok == false; implementations should treat their
// own failures as misses so reads fall through to the backend.
type SnapshotCache interface {
	Get(ctx context.Context, aggregateID string) (snapshot Snapshot, ok bool)
	Put(ctx context.Context, snapshot Snapshot) error
}

// SnapshotFiller is implemented by caches that can be populated from a
// backend read without replacing a newer cached snapshot. GetSnapshot uses
// PutIfNewer when the cache provides it, and Put otherwise.
type SnapshotFiller interface {
	PutIfNewer(ctx context.Context, snapshot Snapshot) error
}

// MemorySnapshotCache is a process-local SnapshotCache.
type MemorySnapshotCache struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

var (
	_ SnapshotCache  = (*MemorySnapshotCache)(nil)
	_ SnapshotFiller = (*MemorySnapshotCache)(nil)
)

// NewMemorySnapshotCache creates an empty cache.
func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{snapshots: make(map[string]Snapshot)}
}

// Get implements SnapshotCache.
func (c *MemorySnapshotCache) Get(_ context.Context, aggregateID string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.snapshots[aggregateID]
	if !ok {
		return Snapshot{}, false
	}
	return s.clone(), true
}

// Put implements SnapshotCache. It replaces any cached snapshot.
func (c *MemorySnapshotCache) Put(_ context.Context, snapshot Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots[snapshot.AggregateID] = snapshot.clone()
	return nil
}

// PutIfNewer implements SnapshotFiller.
func (c *MemorySnapshotCache) PutIfNewer(_ context.Context, snapshot Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.snapshots[snapshot.AggregateID]; ok && current.Version > snapshot.Version {
		return nil
	}
	c.snapshots[snapshot.AggregateID] = snapshot.clone()
	return nil
}

// Len returns the number of cached snapshots.
func (c *MemorySnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

// Clear drops every cached snapshot.
func (c *MemorySnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = make(map[string]Snapshot)
}
