// Package stoat provides event sourcing and CQRS primitives for Go applications.
//
// The event store is the single source of truth: every change is recorded
// as an immutable, versioned event, and current state is derived by
// folding those events. Aggregates enforce business rules on the write
// side; projections maintain read models on the read side.
//
// # Quick Start
//
// Create an event store with the in-memory backend for development:
//
//	import (
//	    "github.com/AshkanYarmoradi/go-stoat"
//	    "github.com/AshkanYarmoradi/go-stoat/adapters/memory"
//	)
//
//	store := stoat.New(memory.NewBackend())
//
// For production, use the SQLite or PostgreSQL backend:
//
//	backend, err := postgres.NewBackend(connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := stoat.New(backend)
//	if err := store.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Appending and Reading Events
//
// The store assigns the ID, the next version and the timestamp:
//
//	event, err := store.Append(ctx, stoat.EventData{
//	    AggregateID:   "user-1",
//	    AggregateType: "User",
//	    Type:          "UserCreated",
//	    Data:          []byte(`{"email":"a@b.c"}`),
//	})
//	// event.Version == 1
//
//	events, err := store.GetEvents(ctx, "user-1", 0)
//	recent, err := store.GetEventsByType(ctx, "GiftPurchased", 10)
//
// Use ExpectVersion for optimistic concurrency:
//
//	_, err := store.Append(ctx, data, stoat.ExpectVersion(3))
//	if errors.Is(err, stoat.ErrVersionConflict) {
//	    // reload and retry
//	}
//
// # Subscriptions
//
// Handlers run synchronously inside Append after the event is durable.
// A failing handler never fails the append:
//
//	sub := store.Subscribe("GiftPurchased", func(ctx context.Context, e stoat.Event) error {
//	    return notify(e)
//	})
//	defer sub.Unsubscribe()
//
// # Aggregates and Commands
//
// Aggregates embed AggregateBase and implement When:
//
//	type User struct {
//	    stoat.AggregateBase
//	    Credits int
//	}
//
//	func (u *User) When(e stoat.Event) error {
//	    switch e.Type {
//	    case "CreditsAdded":
//	        var p CreditsAdded
//	        if err := json.Unmarshal(e.Data, &p); err != nil {
//	            return err
//	        }
//	        u.Credits += p.Amount
//	    }
//	    return nil
//	}
//
// A CommandHandler loads the aggregate, asks an Executor for new events,
// applies and appends them, and snapshots every DefaultSnapshotInterval versions:
//
//	registry := stoat.NewAggregateRegistry()
//	registry.Register("User", func(id string) stoat.Aggregate { return NewUser(id) })
//
//	handler := stoat.NewCommandHandler(store, registry, executor,
//	    stoat.WithMiddleware(stoat.RecoveryMiddleware()),
//	)
//	result, err := handler.Handle(ctx, AddCredits{UserID: "user-1", Amount: 100})
//
// # Projections
//
// StateProjection folds events into a typed read model:
//
//	sales := stoat.NewStateProjection("gift-sales", func() map[string]int { return map[string]int{} }).
//	    On("GiftPurchased", countGift)
//
//	handle := stoat.StartProjection(store, sales)
//	defer handle.Stop()
//
//	// Rebuild from history at any time.
//	_, err := stoat.RebuildProjection(ctx, store, sales)
package stoat

// Version returns the library version string.
func Version() string {
	return "0.1.0"
}
