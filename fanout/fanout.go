// Package fanout holds what the broker publishers share: the header set that
// travels with every forwarded event.
//
// Payload bytes are forwarded untouched. Consumers read the event identity
// from the headers and decode the payload with the same serializer the
// producer used.
package fanout

import (
	"strconv"
	"time"

	"github.com/AshkanYarmoradi/go-stoat"
)

// Header names attached to every forwarded event.
const (
	HeaderEventID        = "stoat-event-id"
	HeaderEventType      = "stoat-event-type"
	HeaderAggregateID    = "stoat-aggregate-id"
	HeaderAggregateType  = "stoat-aggregate-type"
	HeaderVersion        = "stoat-version"
	HeaderGlobalPosition = "stoat-global-position"
	HeaderTimestamp      = "stoat-timestamp"
	HeaderCorrelationID  = "stoat-correlation-id"
	HeaderCausationID    = "stoat-causation-id"
	HeaderActorID        = "stoat-actor-id"
)

// Headers returns the headers describing e. Empty metadata fields are omitted.
func Headers(e stoat.Event) map[string]string {
	h := map[string]string{
		HeaderEventID:        e.ID,
		HeaderEventType:      e.Type,
		HeaderAggregateID:    e.AggregateID,
		HeaderVersion:        strconv.FormatInt(e.Version, 10),
		HeaderGlobalPosition: strconv.FormatUint(e.GlobalPosition, 10),
		HeaderTimestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.AggregateType != "" {
		h[HeaderAggregateType] = e.AggregateType
	}
	if e.Metadata.CorrelationID != "" {
		h[HeaderCorrelationID] = e.Metadata.CorrelationID
	}
	if e.Metadata.CausationID != "" {
		h[HeaderCausationID] = e.Metadata.CausationID
	}
	if e.Metadata.ActorID != "" {
		h[HeaderActorID] = e.Metadata.ActorID
	}
	return h
}

// TopicFunc chooses a destination for an event.
type TopicFunc func(e stoat.Event) string

// StaticTopic routes every event to the same destination.
func StaticTopic(topic string) TopicFunc {
	return func(stoat.Event) string { return topic }
}
