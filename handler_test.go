package stoat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawCommand struct {
	cmdType     string
	aggregateID string
	aggType     string
}

func (c rawCommand) CommandType() string   { return c.cmdType }
func (c rawCommand) AggregateID() string   { return c.aggregateID }
func (c rawCommand) AggregateType() string { return c.aggType }

func newTestHandler(opts ...HandlerOption) (*CommandHandler, *EventStore) {
	store, _ := newTestStore()
	return NewCommandHandler(store, userRegistry(), userExecutor(), opts...), store
}

func TestCommandHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("executes, applies and appends", func(t *testing.T) {
		h, store := newTestHandler()

		result, err := h.Handle(ctx, createUser{UserID: "user-1", Email: "a@example.com"})

		require.NoError(t, err)
		assert.True(t, result.IsSuccess())
		assert.Equal(t, "user-1", result.AggregateID)
		assert.Equal(t, int64(1), result.Version)
		assert.Equal(t, 1, result.EventCount)

		events, err := store.GetEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "UserCreated", events[0].Type)
		assert.Equal(t, "User", events[0].AggregateType)
	})

	t.Run("later commands see earlier state", func(t *testing.T) {
		h, _ := newTestHandler()

		_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 10})
		require.NoError(t, err)
		result, err := h.Handle(ctx, purchaseGift{UserID: "user-1", Gift: "rose", Cost: 4})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.Version)

		agg, err := h.LoadAggregate(ctx, "User", "user-1")
		require.NoError(t, err)
		assert.Equal(t, 6, agg.(*testUser).Credits)
	})

	t.Run("domain errors propagate unchanged and append nothing", func(t *testing.T) {
		h, store := newTestHandler()
		_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
		require.NoError(t, err)

		result, err := h.Handle(ctx, purchaseGift{UserID: "user-1", Gift: "car", Cost: 100})

		assert.Same(t, errInsufficientCredits, err)
		assert.False(t, result.IsSuccess())
		events, err := store.GetEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("a failed command does not leak into the next one", func(t *testing.T) {
		h, _ := newTestHandler()
		_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 5})
		require.NoError(t, err)
		_, err = h.Handle(ctx, purchaseGift{UserID: "user-1", Gift: "car", Cost: 100})
		require.Error(t, err)

		result, err := h.Handle(ctx, purchaseGift{UserID: "user-1", Gift: "rose", Cost: 5})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.Version)
	})

	t.Run("rejects invalid commands", func(t *testing.T) {
		h, _ := newTestHandler()

		_, err := h.Handle(ctx, rawCommand{aggregateID: "user-1", aggType: "User"})
		assert.ErrorIs(t, err, ErrInvalidCommand)

		_, err = h.Handle(ctx, rawCommand{cmdType: "Touch", aggType: "User"})
		assert.ErrorIs(t, err, ErrInvalidCommand)
		var ice *InvalidCommandError
		require.ErrorAs(t, err, &ice)
		assert.Equal(t, "aggregateId", ice.Field)
		assert.Equal(t, "Touch", ice.CommandType)

		_, err = h.Handle(ctx, nil)
		assert.ErrorIs(t, err, ErrNilCommand)
	})

	t.Run("runs command validation", func(t *testing.T) {
		h, _ := newTestHandler()
		_, err := h.Handle(ctx, purchaseGift{UserID: "user-1", Gift: "rose", Cost: 0})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cost must be positive")
	})

	t.Run("unknown aggregate type", func(t *testing.T) {
		h, _ := newTestHandler()
		_, err := h.Handle(ctx, rawCommand{cmdType: "Touch", aggregateID: "x", aggType: "Ghost"})
		assert.ErrorIs(t, err, ErrUnknownAggregateType)
	})

	t.Run("commands without events succeed without appending", func(t *testing.T) {
		store, backend := newTestStore()
		h := NewCommandHandler(store, userRegistry(), ExecutorFunc(func(context.Context, Aggregate, Command) ([]EventData, error) {
			return nil, nil
		}))

		result, err := h.Handle(ctx, addCredits{UserID: "user-1"})
		require.NoError(t, err)
		assert.True(t, result.IsSuccess())
		assert.Equal(t, 0, result.EventCount)
		assert.Equal(t, 0, backend.EventCount())
	})

	t.Run("command metadata is stamped on events", func(t *testing.T) {
		h, store := newTestHandler()
		cmd := addCredits{
			CommandBase: CommandBase{}.WithActorID("admin").WithCorrelationID("corr-1"),
			UserID:      "user-1",
			Amount:      1,
		}

		_, err := h.Handle(ctx, cmd)
		require.NoError(t, err)

		events, err := store.GetEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Equal(t, "admin", events[0].Metadata.ActorID)
		assert.Equal(t, "corr-1", events[0].Metadata.CorrelationID)
	})
}

func TestCommandHandler_ConcurrentCommands(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore()

	var ready sync.WaitGroup
	ready.Add(2)
	executor := ExecutorFunc(func(ctx context.Context, agg Aggregate, cmd Command) ([]EventData, error) {
		// Both commands have loaded version 0 before either appends.
		ready.Done()
		ready.Wait()
		return []EventData{MustEncode(NewJSONSerializer(), CreditsAdded{Amount: 1})}, nil
	})
	h := NewCommandHandler(store, userRegistry(), executor)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
			errs <- err
		}()
	}

	var conflicts, successes int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, backend.EventCount())
}

func TestCommandHandler_Snapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshots every ten versions", func(t *testing.T) {
		h, store := newTestHandler()

		for i := 0; i < 9; i++ {
			_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
			require.NoError(t, err)
		}
		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Nil(t, snap)

		_, err = h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
		require.NoError(t, err)
		snap, err = store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(10), snap.Version)

		var state userState
		require.NoError(t, store.DecodeSnapshot(snap, &state))
		assert.Equal(t, 10, state.Credits)
	})

	t.Run("load restores from the snapshot and folds the rest", func(t *testing.T) {
		h, _ := newTestHandler()
		for i := 0; i < 11; i++ {
			_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 2})
			require.NoError(t, err)
		}

		agg, err := h.LoadAggregate(ctx, "User", "user-1")
		require.NoError(t, err)
		u := agg.(*testUser)

		assert.Equal(t, int64(11), u.Version())
		assert.Equal(t, 22, u.Credits)
		assert.Equal(t, []string{"CreditsAdded"}, u.applied)
	})

	t.Run("batch crossing the interval snapshots at its last version", func(t *testing.T) {
		store, _ := newTestStore()
		executor := ExecutorFunc(func(context.Context, Aggregate, Command) ([]EventData, error) {
			s := NewJSONSerializer()
			return []EventData{MustEncode(s, CreditsAdded{Amount: 1}), MustEncode(s, CreditsAdded{Amount: 1})}, nil
		})
		h := NewCommandHandler(store, userRegistry(), executor, WithSnapshotInterval(3))

		_, err := h.Handle(ctx, addCredits{UserID: "user-1"})
		require.NoError(t, err)
		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Nil(t, snap)

		_, err = h.Handle(ctx, addCredits{UserID: "user-1"})
		require.NoError(t, err)
		snap, err = store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(4), snap.Version)
	})

	t.Run("disabled interval never snapshots", func(t *testing.T) {
		h, store := newTestHandler(WithSnapshotInterval(0))
		for i := 0; i < 10; i++ {
			_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
			require.NoError(t, err)
		}
		snap, err := store.GetSnapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("snapshot failure is logged, not returned", func(t *testing.T) {
		backend := newFaultyBackend()
		backend.snapshotErr = errors.New("snapshots unavailable")
		logger := newTestLogger()
		store := New(backend)
		h := NewCommandHandler(store, userRegistry(), userExecutor(), WithSnapshotInterval(1), WithHandlerLogger(logger))

		result, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})

		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Version)
		assert.Contains(t, logger.warnings(), "Automatic snapshot failed")
	})

	t.Run("unreadable snapshot falls back to full replay", func(t *testing.T) {
		logger := newTestLogger()
		h, store := newTestHandler(WithHandlerLogger(logger))
		for i := 0; i < 3; i++ {
			_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
			require.NoError(t, err)
		}
		require.NoError(t, store.CreateSnapshot(ctx, "user-1", []byte("not json"), 2))

		agg, err := h.LoadAggregate(ctx, "User", "user-1")
		require.NoError(t, err)

		assert.Equal(t, int64(3), agg.Version())
		assert.Equal(t, 3, agg.(*testUser).Credits)
		assert.Contains(t, logger.warnings(), "Ignoring snapshot that could not be restored")
	})
}

func TestCommandHandler_Middleware(t *testing.T) {
	ctx := context.Background()

	t.Run("runs in registration order", func(t *testing.T) {
		var order []string
		mw := func(name string) Middleware {
			return func(next MiddlewareFunc) MiddlewareFunc {
				return func(ctx context.Context, cmd Command) (CommandResult, error) {
					order = append(order, name+":before")
					result, err := next(ctx, cmd)
					order = append(order, name+":after")
					return result, err
				}
			}
		}
		h, _ := newTestHandler(WithMiddleware(mw("outer"), mw("inner")))

		_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"outer:before", "inner:before", "inner:after", "outer:after"}, order)
	})

	t.Run("recovery turns panics into errors", func(t *testing.T) {
		store, backend := newTestStore()
		executor := ExecutorFunc(func(context.Context, Aggregate, Command) ([]EventData, error) {
			panic("executor exploded")
		})
		h := NewCommandHandler(store, userRegistry(), executor, WithMiddleware(RecoveryMiddleware()))

		result, err := h.Handle(ctx, addCredits{UserID: "user-1"})

		assert.ErrorIs(t, err, ErrHandlerPanicked)
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "AddCredits", pe.CommandType)
		assert.Equal(t, "executor exploded", pe.Value)
		assert.NotEmpty(t, pe.Stack)
		assert.False(t, result.IsSuccess())
		assert.Equal(t, 0, backend.EventCount())
	})

	t.Run("correlation id reaches the events", func(t *testing.T) {
		h, store := newTestHandler(WithMiddleware(CorrelationIDMiddleware(func() string { return "generated" })))

		_, err := h.Handle(ctx, createUser{UserID: "user-1"})
		require.NoError(t, err)

		events, err := store.GetEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Equal(t, "generated", events[0].Metadata.CorrelationID)
	})

	t.Run("a timed out command may still have been applied", func(t *testing.T) {
		backend := newFaultyBackend()
		backend.holdCommit = true
		store := New(backend)
		h := NewCommandHandler(store, userRegistry(), userExecutor(),
			WithMiddleware(TimeoutMiddleware(20*time.Millisecond)))

		_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 5})
		require.ErrorIs(t, err, context.DeadlineExceeded)

		// The outcome is unknown to the caller; the aggregate tells.
		agg, err := h.LoadAggregate(ctx, "User", "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), agg.Version())
		assert.Equal(t, 5, agg.(*testUser).Credits)
	})

	t.Run("timeout leaves fast commands alone", func(t *testing.T) {
		h, _ := newTestHandler(WithMiddleware(TimeoutMiddleware(time.Second)))

		result, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Version)
	})

	t.Run("command type middleware only wraps listed types", func(t *testing.T) {
		var seen []string
		record := func(next MiddlewareFunc) MiddlewareFunc {
			return func(ctx context.Context, cmd Command) (CommandResult, error) {
				seen = append(seen, cmd.CommandType())
				return next(ctx, cmd)
			}
		}
		h, _ := newTestHandler(WithMiddleware(CommandTypeMiddleware([]string{"PurchaseGift"}, record)))

		_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 50})
		require.NoError(t, err)
		_, err = h.Handle(ctx, purchaseGift{UserID: "user-1", Gift: "mug", Cost: 10})
		require.NoError(t, err)

		assert.Equal(t, []string{"PurchaseGift"}, seen)
	})

	t.Run("logging middleware reports outcomes", func(t *testing.T) {
		logger := newTestLogger()
		h, _ := newTestHandler(WithMiddleware(NewLoggingMiddleware(logger).Middleware()))

		_, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: 1})
		require.NoError(t, err)
		_, err = h.Handle(ctx, purchaseGift{UserID: "user-1", Gift: "car", Cost: 50})
		require.Error(t, err)

		assert.Equal(t, []string{"Command completed"}, logger.infoLogs)
		assert.Equal(t, []string{"Command failed"}, logger.errors())
	})
}

func TestAggregateRegistry(t *testing.T) {
	r := userRegistry()
	r.Register("Account", func(id string) Aggregate { return newTestUser(id) })

	assert.True(t, r.Has("User"))
	assert.False(t, r.Has("Ghost"))
	assert.Equal(t, []string{"Account", "User"}, r.Types())

	agg, err := r.New("User", "user-9")
	require.NoError(t, err)
	assert.Equal(t, "user-9", agg.AggregateID())

	r.Register("Nil", func(string) Aggregate { return nil })
	_, err = r.New("Nil", "x")
	assert.ErrorIs(t, err, ErrNilAggregate)
}
