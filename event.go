package stoat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata contains contextual information about an event.
// It is persisted as a JSON blob next to the payload.
type Metadata struct {
	// CorrelationID links related events across services for distributed tracing.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the event or command that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// ActorID identifies who triggered this event.
	ActorID string `json:"actorId,omitempty"`

	// Custom contains arbitrary key-value pairs for application-specific metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// WithCorrelationID returns a copy of Metadata with the correlation ID set.
func (m Metadata) WithCorrelationID(id string) Metadata {
	m.CorrelationID = id
	return m
}

// WithCausationID returns a copy of Metadata with the causation ID set.
func (m Metadata) WithCausationID(id string) Metadata {
	m.CausationID = id
	return m
}

// WithActorID returns a copy of Metadata with the actor ID set.
func (m Metadata) WithActorID(id string) Metadata {
	m.ActorID = id
	return m
}

// WithCustom returns a copy of Metadata with a custom key-value pair added.
func (m Metadata) WithCustom(key, value string) Metadata {
	custom := make(map[string]string, len(m.Custom)+1)
	for k, v := range m.Custom {
		custom[k] = v
	}
	custom[key] = value
	m.Custom = custom
	return m
}

// IsEmpty reports whether the Metadata has no values set.
func (m Metadata) IsEmpty() bool {
	return m.CorrelationID == "" &&
		m.CausationID == "" &&
		m.ActorID == "" &&
		len(m.Custom) == 0
}

func encodeMetadata(m Metadata) ([]byte, error) {
	if m.IsEmpty() {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("stoat: failed to decode metadata: %w", err)
	}
	return m, nil
}

// EventData is an event as supplied by a caller, before the store assigns
// its ID, version and timestamp.
type EventData struct {
	// AggregateID identifies the owning aggregate instance. Required.
	AggregateID string

	// AggregateType names the aggregate's kind (e.g., "User").
	AggregateType string

	// Type is the event type identifier (e.g., "GiftPurchased"). Required.
	Type string

	// Data is the serialized event payload. It is opaque to the store.
	Data []byte

	// Metadata contains optional contextual information.
	Metadata Metadata
}

// WithMetadata returns a copy with the metadata replaced.
func (d EventData) WithMetadata(m Metadata) EventData {
	d.Metadata = m
	return d
}

func (d EventData) validate() error {
	if d.AggregateID == "" {
		return &InvalidEventError{Field: "aggregateId"}
	}
	if d.Type == "" {
		return &InvalidEventError{Field: "type"}
	}
	return nil
}

// Event is an immutable fact appended to an aggregate's log.
type Event struct {
	// ID is globally unique and generated at append time.
	ID string

	// AggregateID identifies the owning aggregate instance.
	AggregateID string

	// AggregateType names the aggregate's kind.
	AggregateType string

	// Type is the event type identifier.
	Type string

	// Data is the serialized payload.
	Data []byte

	// Metadata contains contextual information.
	Metadata Metadata

	// Version is the position of this event within its aggregate, starting at 1.
	Version int64

	// GlobalPosition is the backend's insertion order across all aggregates.
	GlobalPosition uint64

	// Timestamp is when the event was appended.
	Timestamp time.Time
}

// Decode deserializes the payload into the Go type registered for e.Type.
func (e Event) Decode(s Serializer) (interface{}, error) {
	return s.Deserialize(e.Data, e.Type)
}

// String returns a short description used in logs.
func (e Event) String() string {
	return fmt.Sprintf("%s/%s@%d", e.AggregateID, e.Type, e.Version)
}
