package stoat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySnapshotCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySnapshotCache()

	_, ok := c.Get(ctx, "user-1")
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, Snapshot{AggregateID: "user-1", State: []byte("a"), Version: 1}))
	require.NoError(t, c.Put(ctx, Snapshot{AggregateID: "user-1", State: []byte("b"), Version: 2}))

	got, ok := c.Get(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestMemorySnapshotCache_CopiesState(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySnapshotCache()

	state := []byte(`{"credits":1}`)
	require.NoError(t, c.Put(ctx, Snapshot{AggregateID: "user-1", State: state, Version: 1}))
	copy(state, "XXXX")

	got, ok := c.Get(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, `{"credits":1}`, string(got.State))

	copy(got.State, "XXXX")
	again, _ := c.Get(ctx, "user-1")
	assert.Equal(t, `{"credits":1}`, string(again.State))
}

func TestMemorySnapshotCache_PutIfNewer(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps a newer cached version", func(t *testing.T) {
		c := NewMemorySnapshotCache()
		require.NoError(t, c.Put(ctx, Snapshot{AggregateID: "user-1", State: []byte("new"), Version: 5}))
		require.NoError(t, c.PutIfNewer(ctx, Snapshot{AggregateID: "user-1", State: []byte("old"), Version: 3}))

		got, _ := c.Get(ctx, "user-1")
		assert.Equal(t, int64(5), got.Version)
		assert.Equal(t, []byte("new"), got.State)
	})

	t.Run("fills an empty cache", func(t *testing.T) {
		c := NewMemorySnapshotCache()
		require.NoError(t, c.PutIfNewer(ctx, Snapshot{AggregateID: "user-1", State: []byte("s"), Version: 3}))

		got, ok := c.Get(ctx, "user-1")
		require.True(t, ok)
		assert.Equal(t, int64(3), got.Version)
	})

	t.Run("Put replaces a newer cached version", func(t *testing.T) {
		c := NewMemorySnapshotCache()
		require.NoError(t, c.Put(ctx, Snapshot{AggregateID: "user-1", State: []byte("new"), Version: 5}))
		require.NoError(t, c.Put(ctx, Snapshot{AggregateID: "user-1", State: []byte("old"), Version: 3}))

		got, _ := c.Get(ctx, "user-1")
		assert.Equal(t, int64(3), got.Version)
		assert.Equal(t, []byte("old"), got.State)
	})
}
