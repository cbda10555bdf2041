// Package msgpack provides MessagePack encodings for event payloads and snapshot state.
//
// Payloads are smaller than their JSON equivalent, which matters for
// aggregates with long histories. Register payload types so Deserialize
// can return concrete values:
//
//	serializer := msgpack.NewSerializer()
//	serializer.RegisterAll(GiftPurchased{}, CreditsAdded{})
//
//	store := stoat.New(backend,
//	    stoat.WithSerializer(serializer),
//	    stoat.WithStateCodec(msgpack.StateCodec{}),
//	)
package msgpack

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/AshkanYarmoradi/go-stoat"
)

// Serializer is a MessagePack implementation of stoat.Serializer.
type Serializer struct {
	registry *stoat.EventRegistry
	strict   bool
}

var _ stoat.Serializer = (*Serializer)(nil)

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithRegistry shares a registry, typically the one of the JSON serializer
// that previously handled the same event types.
func WithRegistry(registry *stoat.EventRegistry) SerializerOption {
	return func(s *Serializer) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithStrictTypes rejects unregistered event types on Deserialize.
func WithStrictTypes() SerializerOption {
	return func(s *Serializer) {
		s.strict = true
	}
}

// NewSerializer creates a new MessagePack Serializer.
func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{registry: stoat.NewEventRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a mapping from eventType to the Go type of the example.
func (s *Serializer) Register(eventType string, example interface{}) {
	s.registry.Register(eventType, example)
}

// RegisterAll registers payloads using their struct names as type names.
func (s *Serializer) RegisterAll(examples ...interface{}) {
	s.registry.RegisterAll(examples...)
}

// Count returns the number of registered event types.
func (s *Serializer) Count() int {
	return s.registry.Count()
}

// Serialize converts a payload to MessagePack bytes.
func (s *Serializer) Serialize(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, stoat.NewSerializationError("nil", "serialize", fmt.Errorf("payload cannot be nil"))
	}

	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, stoat.NewSerializationError(stoat.GetEventType(payload), "serialize", err)
	}
	return data, nil
}

// Deserialize converts MessagePack bytes back to a payload.
// Unregistered types decode to map[string]interface{} unless the serializer is strict.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, stoat.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.registry.Lookup(eventType)
	if !ok {
		if s.strict {
			return nil, &stoat.EventTypeNotRegisteredError{EventType: eventType}
		}
		var result map[string]interface{}
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return nil, stoat.NewSerializationError(eventType, "deserialize", err)
		}
		return result, nil
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, stoat.NewSerializationError(eventType, "deserialize", err)
	}
	return ptr.Elem().Interface(), nil
}

// StateCodec encodes snapshot state with MessagePack.
type StateCodec struct{}

var _ stoat.StateCodec = StateCodec{}

// Marshal implements stoat.StateCodec.
func (StateCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal implements stoat.StateCodec.
func (StateCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
