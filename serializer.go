package stoat

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Serializer handles event payload serialization and deserialization.
type Serializer interface {
	// Serialize converts a payload to bytes.
	Serialize(payload interface{}) ([]byte, error)

	// Deserialize converts bytes back to a payload.
	// The eventType is used to determine the target type.
	Deserialize(data []byte, eventType string) (interface{}, error)
}

// StateCodec encodes aggregate and replay state for snapshots.
type StateCodec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONStateCodec is the default StateCodec.
type JSONStateCodec struct{}

// Marshal implements StateCodec.
func (JSONStateCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements StateCodec.
func (JSONStateCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// EventRegistry maps event type names to Go types.
// It is used by the JSONSerializer to deserialize payloads to the correct type.
type EventRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewEventRegistry creates a new empty EventRegistry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		types: make(map[string]reflect.Type),
	}
}

// Register adds a mapping from eventType to the Go type of the example.
func (r *EventRegistry) Register(eventType string, example interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[eventType] = valueType(example)
}

// RegisterAll registers multiple payloads using their struct names as type names.
func (r *EventRegistry) RegisterAll(examples ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, example := range examples {
		t := valueType(example)
		r.types[t.Name()] = t
	}
}

// Lookup returns the Go type for the given event type name.
func (r *EventRegistry) Lookup(eventType string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[eventType]
	return t, ok
}

// Count returns the number of registered event types.
func (r *EventRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

func valueType(example interface{}) reflect.Type {
	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// JSONSerializer is the default Serializer implementation using JSON encoding.
type JSONSerializer struct {
	registry *EventRegistry
	strict   bool
}

// JSONOption configures a JSONSerializer.
type JSONOption func(*JSONSerializer)

// WithStrictTypes makes Deserialize fail for unregistered event types
// instead of falling back to map[string]interface{}.
func WithStrictTypes() JSONOption {
	return func(s *JSONSerializer) {
		s.strict = true
	}
}

// WithRegistry shares an existing registry.
func WithRegistry(registry *EventRegistry) JSONOption {
	return func(s *JSONSerializer) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// NewJSONSerializer creates a new JSONSerializer with an empty registry.
func NewJSONSerializer(opts ...JSONOption) *JSONSerializer {
	s := &JSONSerializer{registry: NewEventRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an event type to the serializer's registry.
func (s *JSONSerializer) Register(eventType string, example interface{}) {
	s.registry.Register(eventType, example)
}

// RegisterAll registers multiple payloads using their struct names as type names.
func (s *JSONSerializer) RegisterAll(examples ...interface{}) {
	s.registry.RegisterAll(examples...)
}

// Registry returns the underlying EventRegistry.
func (s *JSONSerializer) Registry() *EventRegistry {
	return s.registry
}

// Serialize converts a payload to JSON bytes.
func (s *JSONSerializer) Serialize(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, NewSerializationError("nil", "serialize", fmt.Errorf("payload cannot be nil"))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, NewSerializationError(GetEventType(payload), "serialize", err)
	}
	return data, nil
}

// Deserialize converts JSON bytes back to a payload.
// If the event type is registered, returns a value of that type.
// Otherwise, returns a map[string]interface{} unless the serializer is strict.
func (s *JSONSerializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.registry.Lookup(eventType)
	if !ok {
		if s.strict {
			return nil, &EventTypeNotRegisteredError{EventType: eventType}
		}
		var result map[string]interface{}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, NewSerializationError(eventType, "deserialize", err)
		}
		return result, nil
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, NewSerializationError(eventType, "deserialize", err)
	}
	return ptr.Elem().Interface(), nil
}

// GetEventType returns the event type name for the given payload.
// It uses the struct name as the type name.
func GetEventType(payload interface{}) string {
	if payload == nil {
		return ""
	}
	return valueType(payload).Name()
}

// Encode serializes a payload into EventData typed by the payload's struct name.
// Aggregate ID and type are filled in by the command handler or the caller.
func Encode(s Serializer, payload interface{}) (EventData, error) {
	eventType := GetEventType(payload)
	if eventType == "" {
		return EventData{}, NewSerializationError("", "serialize", fmt.Errorf("cannot determine event type"))
	}

	data, err := s.Serialize(payload)
	if err != nil {
		return EventData{}, err
	}

	return EventData{Type: eventType, Data: data}, nil
}

// MustEncode is like Encode but panics on error. Intended for tests and fixtures.
func MustEncode(s Serializer, payload interface{}) EventData {
	data, err := Encode(s, payload)
	if err != nil {
		panic(err)
	}
	return data
}
