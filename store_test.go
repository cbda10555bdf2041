package stoat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

func TestEventStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns consecutive versions per aggregate", func(t *testing.T) {
		store, _ := newTestStore()

		first, err := store.Append(ctx, payload("user-1", UserCreated{Email: "a@example.com", Role: "member"}))
		require.NoError(t, err)
		second, err := store.Append(ctx, payload("user-1", EmailChanged{Email: "b@example.com"}))
		require.NoError(t, err)
		other, err := store.Append(ctx, payload("user-2", UserCreated{Email: "c@example.com"}))
		require.NoError(t, err)

		assert.Equal(t, int64(1), first.Version)
		assert.Equal(t, int64(2), second.Version)
		assert.Equal(t, int64(1), other.Version)
		assert.NotEmpty(t, first.ID)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, fixedTime, first.Timestamp)
		assert.Equal(t, "User", first.AggregateType)
		assert.Less(t, first.GlobalPosition, second.GlobalPosition)
	})

	t.Run("user-1 history reads back in order", func(t *testing.T) {
		store, _ := newTestStore()

		_, err := store.Append(ctx, payload("user-1", UserCreated{Email: "a@example.com"}))
		require.NoError(t, err)
		_, err = store.Append(ctx, payload("user-1", EmailChanged{Email: "b@example.com"}))
		require.NoError(t, err)

		events, err := store.GetEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "UserCreated", events[0].Type)
		assert.Equal(t, int64(1), events[0].Version)
		assert.Equal(t, "EmailChanged", events[1].Type)
		assert.Equal(t, int64(2), events[1].Version)
		assert.JSONEq(t, `{"email":"b@example.com"}`, string(events[1].Data))
	})

	t.Run("rejects missing aggregate id", func(t *testing.T) {
		store, backend := newTestStore()
		delivered := 0
		store.SubscribeAll(func(context.Context, Event) error { delivered++; return nil })

		_, err := store.Append(ctx, EventData{Type: "UserCreated"})

		assert.ErrorIs(t, err, ErrInvalidEvent)
		var invalid *InvalidEventError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "aggregateId", invalid.Field)
		assert.Equal(t, 0, backend.EventCount())
		assert.Equal(t, 0, delivered)
	})

	t.Run("rejects missing type", func(t *testing.T) {
		store, backend := newTestStore()

		_, err := store.Append(ctx, EventData{AggregateID: "user-1"})

		var invalid *InvalidEventError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "type", invalid.Field)
		assert.Equal(t, 0, backend.EventCount())
	})

	t.Run("backend failure persists and publishes nothing", func(t *testing.T) {
		backend := newFaultyBackend()
		store := New(backend)
		delivered := 0
		store.SubscribeAll(func(context.Context, Event) error { delivered++; return nil })
		backend.failInsert(errors.New("disk full"))

		_, err := store.Append(ctx, payload("user-1", UserCreated{}))

		assert.ErrorIs(t, err, ErrBackendFailure)
		assert.ErrorContains(t, err, "disk full")
		assert.Equal(t, 0, delivered)
		assert.Empty(t, store.RecentEvents(0))
		assert.Equal(t, 0, backend.EventCount())
	})

	t.Run("expected version mismatch is a conflict", func(t *testing.T) {
		store, backend := newTestStore()
		_, err := store.Append(ctx, payload("user-1", UserCreated{}))
		require.NoError(t, err)

		_, err = store.Append(ctx, payload("user-1", RoleChanged{Role: "admin"}), ExpectVersion(0))

		assert.ErrorIs(t, err, ErrVersionConflict)
		var conflict *VersionConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(0), conflict.ExpectedVersion)
		assert.Equal(t, int64(1), conflict.ActualVersion)
		assert.Equal(t, 1, backend.EventCount())
	})

	t.Run("expected version match appends", func(t *testing.T) {
		store, _ := newTestStore()

		e, err := store.Append(ctx, payload("user-1", UserCreated{}), ExpectVersion(0))
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.Version)
	})

	t.Run("backend uniqueness violation becomes a version conflict", func(t *testing.T) {
		backend := newFaultyBackend()
		store := New(backend)
		_, err := store.Append(ctx, payload("user-1", UserCreated{}))
		require.NoError(t, err)

		// Simulate a writer in another process that read a stale version.
		backend.currentVersion = func(v int64) int64 { return v - 1 }
		_, err = store.Append(ctx, payload("user-1", RoleChanged{Role: "admin"}))

		assert.ErrorIs(t, err, ErrVersionConflict)
		var conflict *VersionConflictError
		require.ErrorAs(t, err, &conflict)
		var backendConflict *adapters.ConflictError
		assert.ErrorAs(t, err, &backendConflict)
		assert.Equal(t, 1, backend.EventCount())
	})

	t.Run("metadata round-trips", func(t *testing.T) {
		store, _ := newTestStore()
		md := Metadata{}.WithCorrelationID("corr-1").WithActorID("admin").WithCustom("source", "test")

		_, err := store.Append(ctx, payload("user-1", UserCreated{}).WithMetadata(md))
		require.NoError(t, err)

		events, err := store.GetEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, md, events[0].Metadata)
	})

	t.Run("releases the per-aggregate lock", func(t *testing.T) {
		store, _ := newTestStore()
		_, err := store.Append(ctx, payload("user-1", UserCreated{}))
		require.NoError(t, err)
		assert.Equal(t, 0, store.locks.size())
	})
}

func TestEventStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore()

	const writers = 50
	var wg sync.WaitGroup
	versions := make(chan int64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := store.Append(ctx, payload("user-1", CreditsAdded{Amount: i}))
			if assert.NoError(t, err) {
				versions <- e.Version
			}
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, writers)
	for v := int64(1); v <= writers; v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
	assert.Equal(t, writers, backend.EventCount())
}

func TestEventStore_AppendAll(t *testing.T) {
	ctx := context.Background()

	t.Run("appends a batch with consecutive versions", func(t *testing.T) {
		store, _ := newTestStore()

		events, err := store.AppendAll(ctx, []EventData{
			payload("user-1", UserCreated{}),
			payload("user-1", CreditsAdded{Amount: 5}),
			payload("user-1", RoleChanged{Role: "vip"}),
		})
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Version)
		}
	})

	t.Run("invalid member rejects the whole batch", func(t *testing.T) {
		store, backend := newTestStore()

		_, err := store.AppendAll(ctx, []EventData{
			payload("user-1", UserCreated{}),
			{AggregateID: "user-1"},
		})

		assert.ErrorIs(t, err, ErrInvalidEvent)
		assert.Equal(t, 0, backend.EventCount())
	})

	t.Run("mixed aggregates are rejected", func(t *testing.T) {
		store, backend := newTestStore()

		_, err := store.AppendAll(ctx, []EventData{
			payload("user-1", UserCreated{}),
			payload("user-2", UserCreated{}),
		})

		assert.ErrorIs(t, err, ErrInvalidEvent)
		assert.Equal(t, 0, backend.EventCount())
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		store, _ := newTestStore()
		_, err := store.AppendAll(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestEventStore_Reads(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	for i := 1; i <= 3; i++ {
		_, err := store.Append(ctx, payload(fmt.Sprintf("user-%d", i), GiftPurchased{Gift: fmt.Sprintf("gift-%d", i), Cost: i}))
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, payload("user-1", CreditsAdded{Amount: 1}))
	require.NoError(t, err)

	t.Run("unknown aggregate yields empty history", func(t *testing.T) {
		events, err := store.GetEvents(ctx, "nobody", 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("fromVersion filters inclusively", func(t *testing.T) {
		events, err := store.GetEvents(ctx, "user-1", 2)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "CreditsAdded", events[0].Type)
	})

	t.Run("negative fromVersion reads everything", func(t *testing.T) {
		events, err := store.GetEvents(ctx, "user-1", -5)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("empty aggregate id is invalid", func(t *testing.T) {
		_, err := store.GetEvents(ctx, "", 0)
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("by type returns newest first", func(t *testing.T) {
		events, err := store.GetEventsByType(ctx, "GiftPurchased", 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "user-3", events[0].AggregateID)
		assert.Equal(t, "user-2", events[1].AggregateID)
		assert.Equal(t, "user-1", events[2].AggregateID)
	})

	t.Run("by type honours limit", func(t *testing.T) {
		events, err := store.GetEventsByType(ctx, "GiftPurchased", 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "user-3", events[0].AggregateID)
	})

	t.Run("by type of unknown type is empty", func(t *testing.T) {
		events, err := store.GetEventsByType(ctx, "Nope", 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("by type requires a type", func(t *testing.T) {
		_, err := store.GetEventsByType(ctx, "", 10)
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("recent events are newest first", func(t *testing.T) {
		recent := store.RecentEvents(2)
		require.Len(t, recent, 2)
		assert.Equal(t, "CreditsAdded", recent[0].Type)
		assert.Equal(t, "user-3", recent[1].AggregateID)
	})
}

func TestEventStore_Subscriptions(t *testing.T) {
	ctx := context.Background()

	t.Run("only subscribers registered before the append are notified", func(t *testing.T) {
		store, _ := newTestStore()
		var early []Event
		store.Subscribe("GiftPurchased", func(_ context.Context, e Event) error {
			early = append(early, e)
			return nil
		})

		_, err := store.Append(ctx, payload("user-1", GiftPurchased{Gift: "rose", Cost: 1}))
		require.NoError(t, err)

		var late []Event
		store.Subscribe("GiftPurchased", func(_ context.Context, e Event) error {
			late = append(late, e)
			return nil
		})

		require.Len(t, early, 1)
		assert.Equal(t, int64(1), early[0].Version)
		assert.Empty(t, late)
	})

	t.Run("typed subscribers only see their type", func(t *testing.T) {
		store, _ := newTestStore()
		var gifts, all int
		store.Subscribe("GiftPurchased", func(context.Context, Event) error { gifts++; return nil })
		store.SubscribeAll(func(context.Context, Event) error { all++; return nil })

		_, err := store.Append(ctx, payload("user-1", UserCreated{}))
		require.NoError(t, err)
		_, err = store.Append(ctx, payload("user-1", GiftPurchased{}))
		require.NoError(t, err)

		assert.Equal(t, 1, gifts)
		assert.Equal(t, 2, all)
	})

	t.Run("subscriber failure does not fail the append", func(t *testing.T) {
		logger := newTestLogger()
		var reported []error
		store, backend := newTestStore(
			WithLogger(logger),
			WithDispatchErrorHandler(func(_ Event, err error) { reported = append(reported, err) }),
		)
		secondRan := false
		store.SubscribeAll(func(context.Context, Event) error { return errors.New("boom") })
		store.SubscribeAll(func(context.Context, Event) error { secondRan = true; return nil })

		e, err := store.Append(ctx, payload("user-1", UserCreated{}))

		require.NoError(t, err)
		assert.Equal(t, int64(1), e.Version)
		assert.True(t, secondRan)
		assert.Equal(t, 1, backend.EventCount())
		require.Len(t, reported, 1)
		assert.ErrorIs(t, reported[0], ErrDispatchFailed)
		assert.Contains(t, logger.errors(), "Event dispatch failed")
	})

	t.Run("unsubscribed handlers are not called", func(t *testing.T) {
		store, _ := newTestStore()
		calls := 0
		sub := store.Subscribe("UserCreated", func(context.Context, Event) error { calls++; return nil })
		sub.Unsubscribe()
		sub.Unsubscribe()

		_, err := store.Append(ctx, payload("user-1", UserCreated{}))
		require.NoError(t, err)
		assert.Equal(t, 0, calls)
	})

	t.Run("publishers run after local subscribers", func(t *testing.T) {
		var order []string
		store, _ := newTestStore(WithPublisher(PublisherFunc(func(context.Context, Event) error {
			order = append(order, "publisher")
			return nil
		})))
		store.SubscribeAll(func(context.Context, Event) error {
			order = append(order, "subscriber")
			return nil
		})

		_, err := store.Append(ctx, payload("user-1", UserCreated{}))
		require.NoError(t, err)
		assert.Equal(t, []string{"subscriber", "publisher"}, order)
	})

	t.Run("failing publisher is reported", func(t *testing.T) {
		var reported int
		store, _ := newTestStore(
			WithPublisher(PublisherFunc(func(context.Context, Event) error { return errors.New("broker down") })),
			WithDispatchErrorHandler(func(Event, error) { reported++ }),
		)

		_, err := store.Append(ctx, payload("user-1", UserCreated{}))
		require.NoError(t, err)
		assert.Equal(t, 1, reported)
	})
}

func TestEventStore_Snapshots(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, store *EventStore) {
		t.Helper()
		_, err := store.Append(ctx, payload("user-1", UserCreated{Email: "a@example.com", Role: "member"}))
		require.NoError(t, err)
		_, err = store.Append(ctx, payload("user-1", CreditsAdded{Amount: 50}))
		require.NoError(t, err)
	}

	t.Run("snapshot at v2 plus RoleChanged replays to the full state", func(t *testing.T) {
		store, _ := newTestStore()
		seed(t, store)

		atV2, err := ReplayEvents(ctx, store, "user-1", reduceUser)
		require.NoError(t, err)
		require.NoError(t, store.CreateSnapshot(ctx, "user-1", atV2, 2))

		_, err = store.Append(ctx, payload("user-1", RoleChanged{Role: "admin"}))
		require.NoError(t, err)

		fromSnapshot, err := ReplayEvents(ctx, store, "user-1", reduceUser)
		require.NoError(t, err)

		full, err := replayWithoutSnapshot(ctx, store, "user-1")
		require.NoError(t, err)

		assert.Equal(t, userState{Email: "a@example.com", Role: "admin", Credits: 50}, fromSnapshot)
		assert.Equal(t, full, fromSnapshot)
	})

	t.Run("rejects versions outside the history", func(t *testing.T) {
		store, backend := newTestStore()
		seed(t, store)

		for _, v := range []int64{0, -1, 3} {
			err := store.CreateSnapshot(ctx, "user-1", userState{}, v)
			assert.ErrorIs(t, err, ErrSnapshotVersion, "version %d", v)
		}
		err := store.CreateSnapshot(ctx, "nobody", userState{}, 1)
		var sve *SnapshotVersionError
		require.ErrorAs(t, err, &sve)
		assert.Equal(t, int64(0), sve.CurrentVersion)
		assert.Equal(t, 0, backend.SnapshotCount())
	})

	t.Run("missing snapshot is nil", func(t *testing.T) {
		store, _ := newTestStore()
		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("newer snapshot replaces the older one", func(t *testing.T) {
		store, backend := newTestStore()
		seed(t, store)

		require.NoError(t, store.CreateSnapshot(ctx, "user-1", userState{Credits: 1}, 1))
		require.NoError(t, store.CreateSnapshot(ctx, "user-1", userState{Credits: 2}, 2))

		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(2), snap.Version)
		assert.Equal(t, fixedTime, snap.Timestamp)
		assert.Equal(t, 1, backend.SnapshotCount())

		var state userState
		require.NoError(t, store.DecodeSnapshot(snap, &state))
		assert.Equal(t, 2, state.Credits)
	})

	t.Run("modifying a returned snapshot does not change the stored one", func(t *testing.T) {
		store, _ := newTestStore()
		seed(t, store)

		atV2, err := ReplayEvents(ctx, store, "user-1", reduceUser)
		require.NoError(t, err)
		require.NoError(t, store.CreateSnapshot(ctx, "user-1", atV2, 2))

		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		original := string(snap.State)
		for i := range snap.State {
			snap.State[i] = 'X'
		}

		again, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, original, string(again.State))

		replayed, err := ReplayEvents(ctx, store, "user-1", reduceUser)
		require.NoError(t, err)
		assert.Equal(t, atV2, replayed)
	})

	t.Run("older snapshot replaces a newer one in backend and cache", func(t *testing.T) {
		store, backend := newTestStore()
		seed(t, store)

		require.NoError(t, store.CreateSnapshot(ctx, "user-1", userState{Credits: 2}, 2))
		require.NoError(t, store.CreateSnapshot(ctx, "user-1", userState{Credits: 1}, 1))

		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(1), snap.Version)

		stored, err := backend.LoadSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, stored.Version, snap.Version)
		assert.Equal(t, stored.State, snap.State)
	})

	t.Run("cache miss reads through to the backend", func(t *testing.T) {
		cache := NewMemorySnapshotCache()
		store, _ := newTestStore(WithSnapshotCache(cache))
		seed(t, store)
		require.NoError(t, store.CreateSnapshot(ctx, "user-1", userState{Credits: 9}, 2))
		cache.Clear()

		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(2), snap.Version)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("read-through fill does not replace a newer cached snapshot", func(t *testing.T) {
		cache := &fillRecordingCache{MemorySnapshotCache: NewMemorySnapshotCache()}
		store, _ := newTestStore(WithSnapshotCache(cache))
		seed(t, store)
		require.NoError(t, store.CreateSnapshot(ctx, "user-1", userState{Credits: 1}, 1))
		cache.Clear()

		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, 1, cache.puts)
		assert.Equal(t, 1, cache.fills)
	})

	t.Run("raw bytes are stored as is", func(t *testing.T) {
		store, _ := newTestStore()
		seed(t, store)

		require.NoError(t, store.CreateSnapshot(ctx, "user-1", []byte(`{"credits":7}`), 2))
		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, `{"credits":7}`, string(snap.State))
	})

	t.Run("backend failure is reported", func(t *testing.T) {
		backend := newFaultyBackend()
		store := New(backend)
		seed(t, store)
		backend.snapshotErr = errors.New("read only")

		err := store.CreateSnapshot(ctx, "user-1", userState{}, 1)
		assert.ErrorIs(t, err, ErrBackendFailure)
	})
}

func replayWithoutSnapshot(ctx context.Context, store *EventStore, id string) (userState, error) {
	events, err := store.GetEvents(ctx, id, 0)
	if err != nil {
		return userState{}, err
	}
	var s userState
	for _, e := range events {
		if s, err = reduceUser(s, e); err != nil {
			return userState{}, err
		}
	}
	return s, nil
}

func TestReplayEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown aggregate replays to the zero state", func(t *testing.T) {
		store, _ := newTestStore()
		state, err := ReplayEvents(ctx, store, "nobody", reduceUser)
		require.NoError(t, err)
		assert.Equal(t, userState{}, state)
	})

	t.Run("replay is deterministic", func(t *testing.T) {
		store, _ := newTestStore()
		_, err := store.Append(ctx, payload("user-1", UserCreated{Email: "a@example.com"}))
		require.NoError(t, err)
		_, err = store.Append(ctx, payload("user-1", CreditsAdded{Amount: 10}))
		require.NoError(t, err)

		first, err := ReplayEvents(ctx, store, "user-1", reduceUser)
		require.NoError(t, err)
		second, err := ReplayEvents(ctx, store, "user-1", reduceUser)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("reducer failure reports the event", func(t *testing.T) {
		store, _ := newTestStore()
		_, err := store.Append(ctx, EventData{AggregateID: "user-1", Type: "CreditsAdded", Data: []byte("not json")})
		require.NoError(t, err)

		_, err = ReplayEvents(ctx, store, "user-1", reduceUser)

		assert.ErrorIs(t, err, ErrReplayFailed)
		var re *ReplayError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, int64(1), re.Version)
		assert.Equal(t, "CreditsAdded", re.EventType)
	})

	t.Run("map state folds from a snapshot", func(t *testing.T) {
		store, _ := newTestStore()
		_, err := store.Append(ctx, payload("user-1", CreditsAdded{Amount: 1}))
		require.NoError(t, err)
		require.NoError(t, store.CreateSnapshot(ctx, "user-1", map[string]int{"CreditsAdded": 1}, 1))
		_, err = store.Append(ctx, payload("user-1", CreditsAdded{Amount: 1}))
		require.NoError(t, err)

		counts, err := ReplayEvents(ctx, store, "user-1", func(s map[string]int, e Event) (map[string]int, error) {
			if s == nil {
				s = map[string]int{}
			}
			s[e.Type]++
			return s, nil
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"CreditsAdded": 2}, counts)
	})
}

func TestEventStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Close())

	_, err := store.Append(ctx, payload("user-1", UserCreated{}))
	assert.ErrorIs(t, err, ErrBackendFailure)
	assert.ErrorIs(t, err, adapters.ErrClosed)
}

type fillRecordingCache struct {
	*MemorySnapshotCache
	puts, fills int
}

func (c *fillRecordingCache) Put(ctx context.Context, s Snapshot) error {
	c.puts++
	return c.MemorySnapshotCache.Put(ctx, s)
}

func (c *fillRecordingCache) PutIfNewer(ctx context.Context, s Snapshot) error {
	c.fills++
	return c.MemorySnapshotCache.PutIfNewer(ctx, s)
}
