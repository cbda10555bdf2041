// Package backendtest provides a conformance suite for adapters.Backend implementations.
//
// Every backend in this module runs the suite from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    backendtest.Run(t, func(t *testing.T) adapters.Backend {
//	        return memory.NewBackend()
//	    })
//	}
package backendtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Factory returns a fresh, initialized backend for one subtest.
// The suite closes the backend when the subtest finishes.
type Factory func(t *testing.T) adapters.Backend

// Record builds a minimal valid event record.
func Record(aggregateID, eventType string, version int64) adapters.EventRecord {
	return adapters.EventRecord{
		ID:            fmt.Sprintf("%s-%d", aggregateID, version),
		AggregateID:   aggregateID,
		AggregateType: "User",
		Type:          eventType,
		Data:          []byte(fmt.Sprintf(`{"v":%d}`, version)),
		Metadata:      []byte(`{}`),
		Version:       version,
		Timestamp:     time.Date(2024, 1, 1, 0, 0, int(version), 0, time.UTC),
	}
}

// Run executes the conformance suite against backends produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	open := func(t *testing.T) adapters.Backend {
		b := factory(t)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}

	t.Run("insert and load round-trips blobs", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		rec := Record("user-1", "UserCreated", 1)
		rec.Data = []byte{0x00, 0xff, '{', '}'}
		rec.Metadata = []byte(`{"actorId":"admin"}`)

		stored, err := b.InsertEvents(ctx, []adapters.EventRecord{rec})
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.NotZero(t, stored[0].GlobalPosition)

		loaded, err := b.LoadEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, rec.ID, loaded[0].ID)
		assert.Equal(t, rec.AggregateType, loaded[0].AggregateType)
		assert.Equal(t, rec.Type, loaded[0].Type)
		assert.Equal(t, rec.Data, loaded[0].Data)
		assert.Equal(t, rec.Metadata, loaded[0].Metadata)
		assert.Equal(t, int64(1), loaded[0].Version)
		assert.True(t, rec.Timestamp.Equal(loaded[0].Timestamp))
		assert.Equal(t, stored[0].GlobalPosition, loaded[0].GlobalPosition)
	})

	t.Run("inserted records equal a later read", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		rec := Record("user-1", "UserCreated", 1)
		rec.Timestamp = time.Date(2024, 1, 1, 12, 0, 0, 123456789, time.UTC)

		stored, err := b.InsertEvents(ctx, []adapters.EventRecord{rec})
		require.NoError(t, err)
		require.Len(t, stored, 1)

		loaded, err := b.LoadEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.True(t, stored[0].Timestamp.Equal(loaded[0].Timestamp),
			"inserted %s, read back %s", stored[0].Timestamp, loaded[0].Timestamp)
		assert.WithinDuration(t, rec.Timestamp, loaded[0].Timestamp, time.Microsecond)
	})

	t.Run("load unknown aggregate is empty", func(t *testing.T) {
		b := open(t)

		loaded, err := b.LoadEvents(context.Background(), "missing", 0)
		require.NoError(t, err)
		assert.Empty(t, loaded)

		version, err := b.CurrentVersion(context.Background(), "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), version)
	})

	t.Run("load from version is inclusive and ascending", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		_, err := b.InsertEvents(ctx, []adapters.EventRecord{
			Record("user-1", "A", 1),
			Record("user-1", "B", 2),
			Record("user-1", "C", 3),
		})
		require.NoError(t, err)

		loaded, err := b.LoadEvents(ctx, "user-1", 2)
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, int64(2), loaded[0].Version)
		assert.Equal(t, int64(3), loaded[1].Version)

		version, err := b.CurrentVersion(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)
	})

	t.Run("duplicate version is a conflict and writes nothing", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		_, err := b.InsertEvents(ctx, []adapters.EventRecord{Record("user-1", "A", 1)})
		require.NoError(t, err)

		_, err = b.InsertEvents(ctx, []adapters.EventRecord{
			Record("user-1", "B", 1),
			Record("user-1", "C", 2),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, adapters.ErrVersionConflict)

		loaded, err := b.LoadEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, "A", loaded[0].Type)
	})

	t.Run("invalid batch is rejected", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		_, err := b.InsertEvents(ctx, nil)
		assert.ErrorIs(t, err, adapters.ErrNoRecords)

		_, err = b.InsertEvents(ctx, []adapters.EventRecord{Record("user-1", "A", 1), Record("user-1", "B", 3)})
		assert.ErrorIs(t, err, adapters.ErrInvalidVersion)
	})

	t.Run("aggregates are independent", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		_, err := b.InsertEvents(ctx, []adapters.EventRecord{Record("user-1", "A", 1)})
		require.NoError(t, err)
		_, err = b.InsertEvents(ctx, []adapters.EventRecord{Record("user-2", "A", 1)})
		require.NoError(t, err)

		loaded, err := b.LoadEvents(ctx, "user-2", 0)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, "user-2", loaded[0].AggregateID)
	})

	t.Run("load by type is newest first with limit", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		for i := 1; i <= 3; i++ {
			id := fmt.Sprintf("user-%d", i)
			_, err := b.InsertEvents(ctx, []adapters.EventRecord{
				Record(id, "UserCreated", 1),
				Record(id, "EmailChanged", 2),
			})
			require.NoError(t, err)
		}

		all, err := b.LoadEventsByType(ctx, "UserCreated", 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "user-3", all[0].AggregateID)
		assert.Equal(t, "user-1", all[2].AggregateID)
		assert.Greater(t, all[0].GlobalPosition, all[1].GlobalPosition)

		limited, err := b.LoadEventsByType(ctx, "EmailChanged", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, "user-3", limited[0].AggregateID)
		assert.Equal(t, "user-2", limited[1].AggregateID)

		none, err := b.LoadEventsByType(ctx, "Unknown", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("snapshot upsert keeps only the latest", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		missing, err := b.LoadSnapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Nil(t, missing)

		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, b.UpsertSnapshot(ctx, adapters.SnapshotRecord{
			AggregateID: "user-1", State: []byte(`{"n":1}`), Version: 1, Timestamp: ts,
		}))
		require.NoError(t, b.UpsertSnapshot(ctx, adapters.SnapshotRecord{
			AggregateID: "user-1", State: []byte(`{"n":2}`), Version: 2, Timestamp: ts.Add(time.Second),
		}))

		snap, err := b.LoadSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(2), snap.Version)
		assert.Equal(t, []byte(`{"n":2}`), snap.State)
		assert.True(t, ts.Add(time.Second).Equal(snap.Timestamp))
	})

	t.Run("concurrent inserts of the same version conflict", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := Record("user-1", "A", 1)
				rec.ID = fmt.Sprintf("writer-%d", i)
				_, err := b.InsertEvents(ctx, []adapters.EventRecord{rec})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case assert.ErrorIs(t, err, adapters.ErrVersionConflict):
					conflicts++
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, writers-1, conflicts)

		loaded, err := b.LoadEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("canceled context is honoured", func(t *testing.T) {
		b := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := b.InsertEvents(ctx, []adapters.EventRecord{Record("user-1", "A", 1)})
		assert.Error(t, err)

		_, err = b.LoadEvents(ctx, "user-1", 0)
		assert.Error(t, err)
	})
}
