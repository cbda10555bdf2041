package stoat

import "fmt"

// Aggregate defines the interface for event-sourced aggregates.
// An aggregate's state is derived entirely from its event sequence.
//
// Implementations embed AggregateBase and provide When.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the type/category of this aggregate (e.g., "User").
	AggregateType() string

	// Version returns the version of the last event folded into the aggregate.
	Version() int64

	// When updates in-memory state from one event. It must be deterministic
	// and free of side effects; a returned error rejects the event.
	When(event Event) error

	// UncommittedEvents returns events applied while executing a command
	// that have not been persisted yet.
	UncommittedEvents() []Event

	// MarkEventsAsCommitted clears the uncommitted events after persistence.
	MarkEventsAsCommitted()
}

// Snapshotter is implemented by aggregates that can be restored from a snapshot.
type Snapshotter interface {
	// SnapshotState returns the value encoded as snapshot state.
	SnapshotState() interface{}

	// RestoreState rebuilds in-memory state. decode unmarshals the stored
	// snapshot into the given pointer.
	RestoreState(decode func(v interface{}) error) error
}

// AggregateFactory creates new aggregate instances.
type AggregateFactory func(id string) Aggregate

// AggregateBase provides the bookkeeping half of Aggregate.
// Embed it in your aggregate types and implement When.
type AggregateBase struct {
	id            string
	aggregateType string
	version       int64
	uncommitted   []Event
	executing     bool
}

// NewAggregateBase creates a new AggregateBase with the given ID and type.
func NewAggregateBase(id, aggregateType string) AggregateBase {
	return AggregateBase{
		id:            id,
		aggregateType: aggregateType,
	}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// AggregateType returns the aggregate type.
func (a *AggregateBase) AggregateType() string {
	return a.aggregateType
}

// Version returns the current version of the aggregate.
func (a *AggregateBase) Version() int64 {
	return a.version
}

// UncommittedEvents returns events that haven't been persisted yet.
func (a *AggregateBase) UncommittedEvents() []Event {
	return a.uncommitted
}

// MarkEventsAsCommitted removes all uncommitted events.
func (a *AggregateBase) MarkEventsAsCommitted() {
	a.uncommitted = nil
}

// HasUncommittedEvents returns true if there are events waiting to be persisted.
func (a *AggregateBase) HasUncommittedEvents() bool {
	return len(a.uncommitted) > 0
}

// Executing reports whether a new event was applied to this instance.
// An executing aggregate no longer accepts history.
func (a *AggregateBase) Executing() bool {
	return a.executing
}

func (a *AggregateBase) aggregateBase() *AggregateBase {
	return a
}

type baseHolder interface {
	aggregateBase() *AggregateBase
}

func baseOf(agg Aggregate) (*AggregateBase, error) {
	if agg == nil {
		return nil, ErrNilAggregate
	}
	h, ok := agg.(baseHolder)
	if !ok {
		return nil, fmt.Errorf("stoat: aggregate %T does not embed AggregateBase", agg)
	}
	return h.aggregateBase(), nil
}

// Apply records a new event produced while executing a command.
// The event gets the next version, is folded with When, and is kept as
// uncommitted. A When error is returned unchanged; nothing is recorded as
// uncommitted and the version does not advance. State When changed before
// failing is not rolled back.
func Apply(agg Aggregate, data EventData) error {
	base, err := baseOf(agg)
	if err != nil {
		return err
	}
	if data.Type == "" {
		return &InvalidEventError{Field: "type"}
	}

	event := Event{
		AggregateID:   data.AggregateID,
		AggregateType: data.AggregateType,
		Type:          data.Type,
		Data:          data.Data,
		Metadata:      data.Metadata,
		Version:       base.version + 1,
	}
	if event.AggregateID == "" {
		event.AggregateID = base.id
	}
	if event.AggregateType == "" {
		event.AggregateType = base.aggregateType
	}

	if err := agg.When(event); err != nil {
		return err
	}

	base.uncommitted = append(base.uncommitted, event)
	base.version = event.Version
	base.executing = true
	return nil
}

// LoadFromHistory folds committed events into a fresh or snapshot-restored
// aggregate. Versions must continue from the aggregate's current version.
//
// A When failure aborts the load with a *ReplayError; the instance is then
// partially loaded and must be discarded.
func LoadFromHistory(agg Aggregate, events []Event) error {
	base, err := baseOf(agg)
	if err != nil {
		return err
	}
	if base.executing {
		return ErrAggregateMode
	}

	for _, e := range events {
		if e.Version != base.version+1 {
			return fmt.Errorf("%w: aggregate %q at version %d got event version %d",
				ErrVersionGap, base.id, base.version, e.Version)
		}
		if err := agg.When(e); err != nil {
			return &ReplayError{AggregateID: base.id, EventType: e.Type, Version: e.Version, Cause: err}
		}
		base.version = e.Version
	}
	return nil
}

// restoreVersion positions a fresh aggregate at a snapshot's version.
func restoreVersion(agg Aggregate, version int64) error {
	base, err := baseOf(agg)
	if err != nil {
		return err
	}
	if base.executing {
		return ErrAggregateMode
	}
	base.version = version
	return nil
}
