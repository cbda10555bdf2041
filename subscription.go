package stoat

import (
	"context"
	"sync"
)

// EventHandler reacts to an appended event. Handlers run synchronously
// inside Append, after the event is durable.
type EventHandler func(ctx context.Context, event Event) error

// Publisher forwards appended events somewhere else, e.g. a message broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Dispatcher is the subscription surface of the event store.
// Bus is the in-process implementation; a distributed deployment can
// provide its own without changing aggregates or command handlers.
type Dispatcher interface {
	Publisher

	// Subscribe registers a handler for one event type.
	Subscribe(eventType string, handler EventHandler) *Subscription

	// SubscribeAll registers a handler for every event.
	SubscribeAll(handler EventHandler) *Subscription
}

// Subscription identifies a registered handler.
type Subscription struct {
	id        uint64
	eventType string
	wildcard  bool
	cancel    func(*Subscription)
	once      sync.Once
}

// EventType returns the subscribed type, or "" for wildcard subscriptions.
func (s *Subscription) EventType() string {
	return s.eventType
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(func() { s.cancel(s) })
}

type registration struct {
	sub     *Subscription
	handler EventHandler
}

// Bus is a synchronous, in-process Dispatcher.
//
// Publish invokes the handlers subscribed to the event's type in
// registration order, then the wildcard handlers in registration order.
// A failing handler does not stop the remaining ones; all failures are
// returned together as a *DispatchError.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	byType   map[string][]registration
	wildcard []registration
}

var _ Dispatcher = (*Bus)(nil)

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{byType: make(map[string][]registration)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, eventType: eventType, cancel: b.remove}
	b.byType[eventType] = append(b.byType[eventType], registration{sub: sub, handler: handler})
	return sub
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, wildcard: true, cancel: b.remove}
	b.wildcard = append(b.wildcard, registration{sub: sub, handler: handler})
	return sub
}

// Publish delivers the event to matching handlers.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	// Snapshot the handler lists so handlers may subscribe or unsubscribe.
	b.mu.RLock()
	typed := append([]registration(nil), b.byType[event.Type]...)
	wildcard := append([]registration(nil), b.wildcard...)
	b.mu.RUnlock()

	var errs []error
	for _, r := range typed {
		if err := r.handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range wildcard {
		if err := r.handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return &DispatchError{EventID: event.ID, EventType: event.Type, Errs: errs}
	}
	return nil
}

// SubscriberCount returns the number of handlers that would see an event of the given type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byType[eventType]) + len(b.wildcard)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.wildcard {
		b.wildcard = without(b.wildcard, sub.id)
		return
	}
	remaining := without(b.byType[sub.eventType], sub.id)
	if len(remaining) == 0 {
		delete(b.byType, sub.eventType)
		return
	}
	b.byType[sub.eventType] = remaining
}

func without(regs []registration, id uint64) []registration {
	out := make([]registration, 0, len(regs))
	for _, r := range regs {
		if r.sub.id != id {
			out = append(out, r)
		}
	}
	return out
}
