// Package protobuf provides a Protocol Buffers serializer for event payloads.
//
// Only proto.Message payloads can be serialized. Register each message
// under the event type it is stored as:
//
//	s := protobuf.NewSerializer()
//	s.MustRegister("GiftPurchased", &pb.GiftPurchased{})
//
//	data, err := s.Serialize(&pb.GiftPurchased{Gift: "rose"})
//	msg, err := s.Deserialize(data, "GiftPurchased") // *pb.GiftPurchased
//
// Deserialize returns pointers to fresh messages. Messages must not be copied by value.
package protobuf

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/AshkanYarmoradi/go-stoat"
)

var (
	// ErrNotProtoMessage indicates the payload does not implement proto.Message.
	ErrNotProtoMessage = errors.New("stoat/protobuf: payload must implement proto.Message")

	// ErrEmptyData indicates nil data was passed to Deserialize.
	ErrEmptyData = errors.New("stoat/protobuf: cannot deserialize nil data")
)

// Serializer implements stoat.Serializer using Protocol Buffers.
type Serializer struct {
	mu       sync.RWMutex
	registry map[string]protoreflect.MessageType
}

var _ stoat.Serializer = (*Serializer)(nil)

// NewSerializer creates a serializer with an empty registry.
func NewSerializer() *Serializer {
	return &Serializer{registry: make(map[string]protoreflect.MessageType)}
}

// Register maps eventType to the message type of example.
// Registering the same name again replaces the previous type.
func (s *Serializer) Register(eventType string, example interface{}) error {
	msg, ok := example.(proto.Message)
	if !ok || msg == nil {
		return stoat.NewSerializationError(eventType, "register", ErrNotProtoMessage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[eventType] = msg.ProtoReflect().Type()
	return nil
}

// RegisterAll registers messages under their short descriptor names
// (e.g. "StringValue" for google.protobuf.StringValue).
func (s *Serializer) RegisterAll(examples ...interface{}) error {
	for _, example := range examples {
		msg, ok := example.(proto.Message)
		if !ok {
			return stoat.NewSerializationError(fmt.Sprintf("%T", example), "register", ErrNotProtoMessage)
		}
		name := string(msg.ProtoReflect().Descriptor().Name())
		if err := s.Register(name, msg); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (s *Serializer) MustRegister(eventType string, example interface{}) {
	if err := s.Register(eventType, example); err != nil {
		panic(err)
	}
}

// MustRegisterAll is like RegisterAll but panics on error.
func (s *Serializer) MustRegisterAll(examples ...interface{}) {
	if err := s.RegisterAll(examples...); err != nil {
		panic(err)
	}
}

// RegisteredTypes returns the registered event type names, sorted.
func (s *Serializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.registry))
	for name := range s.registry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Serialize converts a proto.Message to its binary wire format.
func (s *Serializer) Serialize(payload interface{}) ([]byte, error) {
	msg, ok := payload.(proto.Message)
	if !ok || msg == nil {
		return nil, stoat.NewSerializationError(fmt.Sprintf("%T", payload), "serialize", ErrNotProtoMessage)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, stoat.NewSerializationError(string(msg.ProtoReflect().Descriptor().FullName()), "serialize", err)
	}
	return data, nil
}

// Deserialize decodes data into a new message of the type registered for eventType.
//
// An empty non-nil slice is valid: it is the encoding of a message whose
// fields all hold default values.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if data == nil {
		return nil, stoat.NewSerializationError(eventType, "deserialize", ErrEmptyData)
	}

	s.mu.RLock()
	mt, ok := s.registry[eventType]
	s.mu.RUnlock()
	if !ok {
		return nil, &stoat.EventTypeNotRegisteredError{EventType: eventType}
	}

	msg := mt.New().Interface()
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, stoat.NewSerializationError(eventType, "deserialize", err)
	}
	return msg, nil
}

// StateCodec encodes snapshot state that is itself a proto.Message.
type StateCodec struct{}

var _ stoat.StateCodec = StateCodec{}

// Marshal implements stoat.StateCodec.
func (StateCodec) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, ErrNotProtoMessage
	}
	return proto.Marshal(msg)
}

// Unmarshal implements stoat.StateCodec. v must be a non-nil message pointer.
func (StateCodec) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return ErrNotProtoMessage
	}
	return proto.Unmarshal(data, msg)
}
