// Package projections provides a test fixture for StateProjection read models.
// Events go through a real in-memory store, so the projection sees them the
// way it would in production: live through its subscription and as history
// during a rebuild.
package projections

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
)

// TB is an alias for testing.TB to enable easier mocking in tests.
type TB = testing.TB

// ProjectionTestFixture drives a running projection over an in-memory store.
type ProjectionTestFixture[S any] struct {
	t          TB
	ctx        context.Context
	projection *stoat.StateProjection[S]
	store      *stoat.EventStore
	handle     *stoat.ProjectionHandle

	mu       sync.Mutex
	failures []error
}

// TestProjection starts the projection against a fresh in-memory store.
// The projection is stopped when the test ends.
func TestProjection[S any](t TB, projection *stoat.StateProjection[S]) *ProjectionTestFixture[S] {
	t.Helper()

	f := &ProjectionTestFixture[S]{
		t:          t,
		ctx:        context.Background(),
		projection: projection,
	}
	f.store = stoat.New(memory.NewBackend(), stoat.WithDispatchErrorHandler(func(_ stoat.Event, err error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.failures = append(f.failures, err)
	}))
	f.handle = stoat.StartProjection(f.store, projection)
	t.Cleanup(f.handle.Stop)

	return f
}

// WithContext sets a custom context.
func (f *ProjectionTestFixture[S]) WithContext(ctx context.Context) *ProjectionTestFixture[S] {
	f.ctx = ctx
	return f
}

// Store returns the store the projection is subscribed to.
func (f *ProjectionTestFixture[S]) Store() *stoat.EventStore {
	return f.store
}

// GivenEvents appends the events one by one. Projection failures do not
// fail the append; check them with ThenNoFailures or ThenFailures.
func (f *ProjectionTestFixture[S]) GivenEvents(events ...stoat.EventData) *ProjectionTestFixture[S] {
	f.t.Helper()

	for _, e := range events {
		if _, err := f.store.Append(f.ctx, e); err != nil {
			f.t.Fatalf("Failed to append %s: %v", e.Type, err)
		}
	}
	return f
}

// ThenState asserts the projection state equals expected.
func (f *ProjectionTestFixture[S]) ThenState(expected S) *ProjectionTestFixture[S] {
	f.t.Helper()

	if actual := f.projection.State(); !reflect.DeepEqual(actual, expected) {
		f.t.Errorf("Read model mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
	return f
}

// ThenStateMatches runs a custom check against the projection state.
func (f *ProjectionTestFixture[S]) ThenStateMatches(check func(t TB, state S)) *ProjectionTestFixture[S] {
	f.t.Helper()
	check(f.t, f.projection.State())
	return f
}

// ThenProcessed asserts how many events the projection handled successfully.
func (f *ProjectionTestFixture[S]) ThenProcessed(expected uint64) *ProjectionTestFixture[S] {
	f.t.Helper()

	if got := f.handle.Status().EventsProcessed; got != expected {
		f.t.Errorf("Expected %d processed events, got %d", expected, got)
	}
	return f
}

// ThenNoFailures asserts the projection never failed on an event.
func (f *ProjectionTestFixture[S]) ThenNoFailures() *ProjectionTestFixture[S] {
	f.t.Helper()
	return f.ThenFailures(0)
}

// ThenFailures asserts how many events the projection failed on.
func (f *ProjectionTestFixture[S]) ThenFailures(expected int) *ProjectionTestFixture[S] {
	f.t.Helper()

	f.mu.Lock()
	failures := append([]error(nil), f.failures...)
	f.mu.Unlock()

	if len(failures) != expected {
		f.t.Errorf("Expected %d projection failures, got %d: %v", expected, len(failures), failures)
	}
	return f
}

// ThenRebuildMatches rebuilds the projection from the store's history and
// asserts the rebuilt state equals the live state. The projection keeps
// running afterwards on a new handle whose counters start from zero.
func (f *ProjectionTestFixture[S]) ThenRebuildMatches() *ProjectionTestFixture[S] {
	f.t.Helper()

	f.handle.Stop()
	live := f.projection.State()

	_, err := stoat.RebuildProjection(f.ctx, f.store, f.projection)
	f.handle = stoat.StartProjection(f.store, f.projection)
	f.t.Cleanup(f.handle.Stop)
	if err != nil {
		f.t.Fatalf("Rebuild failed: %v", err)
	}

	if rebuilt := f.projection.State(); !reflect.DeepEqual(live, rebuilt) {
		f.t.Errorf("Rebuilt state differs from live state:\nLive: %+v\nRebuilt: %+v", live, rebuilt)
	}
	return f
}
