package stoat

import (
	"context"
	"sync"
	"sync/atomic"
)

// Projection folds events of selected types into a read model.
// Handle must be deterministic so a rebuild yields the live state.
type Projection interface {
	// Name returns the unique identifier for this projection.
	Name() string

	// EventTypes returns the event types this projection consumes.
	EventTypes() []string

	// Handle folds one event into the read model.
	Handle(ctx context.Context, event Event) error
}

// Resettable is implemented by projections that can return to their
// initial state before a rebuild.
type Resettable interface {
	Reset()
}

// ProjectionBase provides the name and event type half of Projection.
// Embed this struct in your projection types.
type ProjectionBase struct {
	name       string
	eventTypes []string
}

// NewProjectionBase creates a new ProjectionBase.
func NewProjectionBase(name string, eventTypes ...string) ProjectionBase {
	return ProjectionBase{
		name:       name,
		eventTypes: eventTypes,
	}
}

// Name returns the projection name.
func (p *ProjectionBase) Name() string {
	return p.name
}

// EventTypes returns the list of event types this projection handles.
func (p *ProjectionBase) EventTypes() []string {
	return p.eventTypes
}

// HandlesEvent returns true if this projection handles the given event type.
func (p *ProjectionBase) HandlesEvent(eventType string) bool {
	for _, et := range p.eventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// StateFunc folds one event into a projection state.
type StateFunc[S any] func(state S, event Event) (S, error)

// StateProjection is a Projection over a single in-memory state value.
// Register one StateFunc per event type with On.
type StateProjection[S any] struct {
	ProjectionBase

	mu       sync.RWMutex
	initial  func() S
	state    S
	handlers map[string]StateFunc[S]
}

var _ Projection = (*StateProjection[int])(nil)
var _ Resettable = (*StateProjection[int])(nil)

// NewStateProjection creates a projection starting from initial().
// A nil initial starts from the zero S.
func NewStateProjection[S any](name string, initial func() S) *StateProjection[S] {
	if initial == nil {
		initial = func() S {
			var zero S
			return zero
		}
	}
	return &StateProjection[S]{
		ProjectionBase: NewProjectionBase(name),
		initial:        initial,
		state:          initial(),
		handlers:       make(map[string]StateFunc[S]),
	}
}

// On registers the fold for an event type. It returns the projection for chaining.
func (p *StateProjection[S]) On(eventType string, fn StateFunc[S]) *StateProjection[S] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.handlers[eventType]; !exists {
		p.eventTypes = append(p.eventTypes, eventType)
	}
	p.handlers[eventType] = fn
	return p
}

// EventTypes returns the event types registered with On.
func (p *StateProjection[S]) EventTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.eventTypes...)
}

// Handle implements Projection. Events of unregistered types are ignored.
// A failing fold leaves the state unchanged.
func (p *StateProjection[S]) Handle(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn, ok := p.handlers[event.Type]
	if !ok {
		return nil
	}
	next, err := fn(p.state, event)
	if err != nil {
		return err
	}
	p.state = next
	return nil
}

// State returns the current state. Reference types must be treated as read-only.
func (p *StateProjection[S]) State() S {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Reset implements Resettable.
func (p *StateProjection[S]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = p.initial()
}

// ProjectionState represents the lifecycle state of a live projection.
type ProjectionState string

const (
	// ProjectionStateRunning indicates the projection receives new events.
	ProjectionStateRunning ProjectionState = "running"

	// ProjectionStateStopped indicates the projection was unsubscribed.
	ProjectionStateStopped ProjectionState = "stopped"
)

// ProjectionStatus provides information about a live projection.
type ProjectionStatus struct {
	Name            string
	State           ProjectionState
	EventsProcessed uint64
	EventsFailed    uint64

	// LastPosition is the global position of the last handled event.
	LastPosition uint64
}

// ProjectionHandle controls a projection started with StartProjection.
type ProjectionHandle struct {
	projection Projection
	subs       []*Subscription
	stopped    atomic.Bool
	processed  atomic.Uint64
	failed     atomic.Uint64
	position   atomic.Uint64
}

// StartProjection subscribes the projection to each of its event types.
// Only events appended after the call are delivered; use
// RebuildProjection to catch up on history.
func StartProjection(store *EventStore, p Projection) *ProjectionHandle {
	h := &ProjectionHandle{projection: p}
	seen := make(map[string]bool)
	for _, eventType := range p.EventTypes() {
		if seen[eventType] {
			continue
		}
		seen[eventType] = true
		h.subs = append(h.subs, store.Subscribe(eventType, h.handle))
	}

	store.logger.Debug("Projection started", "projection", p.Name(), "eventTypes", len(h.subs))
	return h
}

func (h *ProjectionHandle) handle(ctx context.Context, event Event) error {
	if err := h.projection.Handle(ctx, event); err != nil {
		h.failed.Add(1)
		return &ProjectionError{Projection: h.projection.Name(), EventID: event.ID, EventType: event.Type, Cause: err}
	}
	h.processed.Add(1)
	h.position.Store(event.GlobalPosition)
	return nil
}

// Stop unsubscribes the projection. It is safe to call more than once.
func (h *ProjectionHandle) Stop() {
	if !h.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, sub := range h.subs {
		sub.Unsubscribe()
	}
}

// Status returns a snapshot of the projection's counters.
func (h *ProjectionHandle) Status() ProjectionStatus {
	state := ProjectionStateRunning
	if h.stopped.Load() {
		state = ProjectionStateStopped
	}
	return ProjectionStatus{
		Name:            h.projection.Name(),
		State:           state,
		EventsProcessed: h.processed.Load(),
		EventsFailed:    h.failed.Load(),
		LastPosition:    h.position.Load(),
	}
}
