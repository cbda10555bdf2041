package stoat

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func propertyParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	return parameters
}

func creditsHistory(ctx context.Context, store *EventStore, id string, amounts []int) error {
	for _, a := range amounts {
		if _, err := store.Append(ctx, payload(id, CreditsAdded{Amount: a})); err != nil {
			return err
		}
	}
	return nil
}

func TestProperty_VersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("each aggregate's versions are 1..n without gaps", prop.ForAll(
		func(picks []int) bool {
			store, _ := newTestStore()
			counts := make(map[string]int64)
			for _, p := range picks {
				id := fmt.Sprintf("user-%d", p)
				e, err := store.Append(ctx, payload(id, CreditsAdded{Amount: 1}))
				if err != nil {
					return false
				}
				counts[id]++
				if e.Version != counts[id] {
					return false
				}
			}
			for id, n := range counts {
				events, err := store.GetEvents(ctx, id, 0)
				if err != nil || int64(len(events)) != n {
					return false
				}
				for i, e := range events {
					if e.Version != int64(i+1) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

func TestProperty_ReplayAndSnapshots(t *testing.T) {
	ctx := context.Background()
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("replay is deterministic", prop.ForAll(
		func(amounts []int) bool {
			store, _ := newTestStore()
			if err := creditsHistory(ctx, store, "user-1", amounts); err != nil {
				return false
			}
			first, err1 := ReplayEvents(ctx, store, "user-1", reduceUser)
			second, err2 := ReplayEvents(ctx, store, "user-1", reduceUser)
			sum := 0
			for _, a := range amounts {
				sum += a
			}
			return err1 == nil && err2 == nil && first == second && first.Credits == sum
		},
		gen.SliceOf(gen.IntRange(-100, 100)),
	))

	properties.Property("snapshot plus tail equals full replay", prop.ForAll(
		func(amounts []int, cut int) bool {
			store, _ := newTestStore()
			if err := creditsHistory(ctx, store, "user-1", amounts); err != nil {
				return false
			}
			full, err := replayWithoutSnapshot(ctx, store, "user-1")
			if err != nil {
				return false
			}

			k := int64(cut%len(amounts) + 1)
			prefix := userState{}
			for _, a := range amounts[:k] {
				prefix.Credits += a
			}
			if err := store.CreateSnapshot(ctx, "user-1", prefix, k); err != nil {
				return false
			}

			fromSnapshot, err := ReplayEvents(ctx, store, "user-1", reduceUser)
			return err == nil && fromSnapshot == full
		},
		gen.SliceOfN(8, gen.IntRange(-100, 100)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_ProjectionRebuild(t *testing.T) {
	ctx := context.Background()
	gifts := []string{"rose", "car", "cake"}
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("rebuild equals live and is idempotent", prop.ForAll(
		func(picks []int) bool {
			store, _ := newTestStore()
			live := giftSales()
			handle := StartProjection(store, live)
			for i, p := range picks {
				id := fmt.Sprintf("user-%d", i%3)
				if _, err := store.Append(ctx, payload(id, GiftPurchased{Gift: gifts[p], Cost: 1})); err != nil {
					return false
				}
			}
			handle.Stop()

			rebuilt := giftSales()
			if _, err := RebuildProjection(ctx, store, rebuilt); err != nil {
				return false
			}
			once := fmt.Sprint(rebuilt.State())
			if _, err := RebuildProjection(ctx, store, rebuilt); err != nil {
				return false
			}
			return once == fmt.Sprint(live.State()) && once == fmt.Sprint(rebuilt.State())
		},
		gen.SliceOf(gen.IntRange(0, len(gifts)-1)),
	))

	properties.TestingRun(t)
}

func TestProperty_AppendAtomicity(t *testing.T) {
	ctx := context.Background()
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("a batch with one invalid event writes nothing", prop.ForAll(
		func(size, bad int) bool {
			store, backend := newTestStore()
			delivered := 0
			store.SubscribeAll(func(context.Context, Event) error { delivered++; return nil })

			batch := make([]EventData, size)
			for i := range batch {
				batch[i] = payload("user-1", CreditsAdded{Amount: i})
			}
			batch[bad%size].Type = ""

			_, err := store.AppendAll(ctx, batch)
			return err != nil && backend.EventCount() == 0 && delivered == 0 && len(store.RecentEvents(0)) == 0
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_CommandIsolation(t *testing.T) {
	ctx := context.Background()
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("rejected commands leave no trace", prop.ForAll(
		func(credits int, costs []int) bool {
			h, store := newTestHandler()
			if _, err := h.Handle(ctx, addCredits{UserID: "user-1", Amount: credits}); err != nil {
				return false
			}

			balance, version := credits, int64(1)
			for _, cost := range costs {
				result, err := h.Handle(ctx, purchaseGift{UserID: "user-1", Gift: "g", Cost: cost})
				if cost > balance {
					if err != errInsufficientCredits {
						return false
					}
					continue
				}
				if err != nil {
					return false
				}
				balance -= cost
				version++
				if result.Version != version {
					return false
				}
			}

			state, err := ReplayEvents(ctx, store, "user-1", reduceUser)
			return err == nil && state.Credits == balance && balance >= 0
		},
		gen.IntRange(0, 50),
		gen.SliceOf(gen.IntRange(1, 20)),
	))

	properties.TestingRun(t)
}
