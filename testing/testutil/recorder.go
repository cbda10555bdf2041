package testutil

import (
	"context"
	"sync"

	"github.com/AshkanYarmoradi/go-stoat"
)

// RecordingHandler collects every event it is handed.
// Set Err to make Handle fail after recording.
type RecordingHandler struct {
	mu     sync.Mutex
	events []stoat.Event
	Err    error
}

// Handle is a stoat.EventHandler.
func (h *RecordingHandler) Handle(ctx context.Context, event stoat.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.Err
}

// Events returns a copy of the recorded events in delivery order.
func (h *RecordingHandler) Events() []stoat.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]stoat.Event(nil), h.events...)
}

// Types returns the recorded event types in delivery order.
func (h *RecordingHandler) Types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]string, len(h.events))
	for i, e := range h.events {
		types[i] = e.Type
	}
	return types
}

// Len returns the number of recorded events.
func (h *RecordingHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// Clear drops the recorded events.
func (h *RecordingHandler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

// RecordingProjection is a resettable projection that records what it handles.
type RecordingProjection struct {
	stoat.ProjectionBase
	RecordingHandler
	resets int
}

var (
	_ stoat.Projection = (*RecordingProjection)(nil)
	_ stoat.Resettable = (*RecordingProjection)(nil)
)

// NewRecordingProjection creates a projection named name over eventTypes.
func NewRecordingProjection(name string, eventTypes ...string) *RecordingProjection {
	return &RecordingProjection{ProjectionBase: stoat.NewProjectionBase(name, eventTypes...)}
}

// Reset implements stoat.Resettable.
func (p *RecordingProjection) Reset() {
	p.Clear()
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
}

// Resets returns how many times Reset was called.
func (p *RecordingProjection) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}
