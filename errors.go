package stoat

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
var (
	// ErrInvalidEvent indicates an append without an aggregate ID or event type.
	ErrInvalidEvent = errors.New("stoat: invalid event")

	// ErrInvalidCommand indicates a command without a type or aggregate ID.
	ErrInvalidCommand = errors.New("stoat: invalid command")

	// ErrBackendFailure indicates the persistence backend rejected a read or write.
	ErrBackendFailure = errors.New("stoat: backend failure")

	// ErrVersionConflict indicates another writer already took the version
	// this append targeted. Callers may reload and retry.
	// It aliases the adapters package error so backend errors match too.
	ErrVersionConflict = adapters.ErrVersionConflict

	// ErrSnapshotVersion indicates a snapshot version that does not match the event history.
	ErrSnapshotVersion = errors.New("stoat: snapshot version does not match history")

	// ErrAggregateMode indicates history was loaded into an aggregate that already executed a command.
	ErrAggregateMode = errors.New("stoat: aggregate is executing a command")

	// ErrVersionGap indicates replayed events do not continue the aggregate's version.
	ErrVersionGap = errors.New("stoat: event version does not follow aggregate version")

	// ErrUnknownAggregateType indicates no factory is registered for an aggregate type.
	ErrUnknownAggregateType = errors.New("stoat: unknown aggregate type")

	// ErrReplayFailed indicates an event could not be folded during replay.
	ErrReplayFailed = errors.New("stoat: replay failed")

	// ErrHandlerPanicked indicates a command handler panicked during execution.
	ErrHandlerPanicked = errors.New("stoat: handler panicked")

	// ErrSerializationFailed indicates payload serialization/deserialization failed.
	ErrSerializationFailed = errors.New("stoat: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("stoat: event type not registered")

	// ErrNilAggregate indicates a nil aggregate was passed.
	ErrNilAggregate = errors.New("stoat: nil aggregate")

	// ErrNilCommand indicates a nil command was passed.
	ErrNilCommand = errors.New("stoat: nil command")

	// ErrDispatchFailed indicates one or more subscribers returned an error.
	ErrDispatchFailed = errors.New("stoat: dispatch failed")

	// ErrProjectionFailed indicates a projection could not handle an event.
	ErrProjectionFailed = errors.New("stoat: projection failed")
)

// InvalidEventError names the missing field of a rejected append.
type InvalidEventError struct {
	Field string
}

// Error returns the error message.
func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("stoat: invalid event: %s is required", e.Field)
}

// Is reports whether this error matches the target error.
func (e *InvalidEventError) Is(target error) bool {
	return target == ErrInvalidEvent
}

// InvalidCommandError names the missing field of a rejected command.
type InvalidCommandError struct {
	CommandType string
	Field       string
}

// Error returns the error message.
func (e *InvalidCommandError) Error() string {
	if e.CommandType == "" {
		return fmt.Sprintf("stoat: invalid command: %s is required", e.Field)
	}
	return fmt.Sprintf("stoat: invalid command %q: %s is required", e.CommandType, e.Field)
}

// Is reports whether this error matches the target error.
func (e *InvalidCommandError) Is(target error) bool {
	return target == ErrInvalidCommand
}

// VersionConflictError provides detailed information about a version conflict.
type VersionConflictError struct {
	AggregateID     string
	ExpectedVersion int64
	ActualVersion   int64
	Cause           error
}

// Error returns the error message.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("stoat: version conflict on aggregate %q: expected version %d, actual version %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// Is reports whether this error matches the target error.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Unwrap returns the backend error that reported the conflict, if any.
func (e *VersionConflictError) Unwrap() error {
	return e.Cause
}

// NewVersionConflictError creates a new VersionConflictError.
func NewVersionConflictError(aggregateID string, expected, actual int64) *VersionConflictError {
	return &VersionConflictError{
		AggregateID:     aggregateID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// BackendError wraps a failure reported by the persistence backend.
type BackendError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *BackendError) Error() string {
	return fmt.Sprintf("stoat: backend %s failed: %v", e.Op, e.Err)
}

// Is reports whether this error matches the target error.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendFailure
}

// Unwrap returns the underlying backend error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// SnapshotVersionError describes a rejected snapshot.
type SnapshotVersionError struct {
	AggregateID    string
	Version        int64
	CurrentVersion int64
}

// Error returns the error message.
func (e *SnapshotVersionError) Error() string {
	return fmt.Sprintf("stoat: snapshot of aggregate %q at version %d does not match history at version %d",
		e.AggregateID, e.Version, e.CurrentVersion)
}

// Is reports whether this error matches the target error.
func (e *SnapshotVersionError) Is(target error) bool {
	return target == ErrSnapshotVersion
}

// ReplayError reports the event that could not be folded.
type ReplayError struct {
	AggregateID string
	EventType   string
	Version     int64
	Cause       error
}

// Error returns the error message.
func (e *ReplayError) Error() string {
	return fmt.Sprintf("stoat: replay of aggregate %q failed at version %d (%s): %v",
		e.AggregateID, e.Version, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *ReplayError) Is(target error) bool {
	return target == ErrReplayFailed
}

// Unwrap returns the reducer or When error.
func (e *ReplayError) Unwrap() error {
	return e.Cause
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("stoat: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause.
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// EventTypeNotRegisteredError provides detailed information about an unregistered event type.
type EventTypeNotRegisteredError struct {
	EventType string
}

// Error returns the error message.
func (e *EventTypeNotRegisteredError) Error() string {
	return fmt.Sprintf("stoat: event type %q not registered", e.EventType)
}

// Is reports whether this error matches the target error.
func (e *EventTypeNotRegisteredError) Is(target error) bool {
	return target == ErrEventTypeNotRegistered
}

// PanicError captures a panic raised while handling a command.
type PanicError struct {
	CommandType string
	Value       interface{}
	Stack       string
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stoat: handler panicked while processing %q: %v", e.CommandType, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// DispatchError collects the subscriber failures for one event.
type DispatchError struct {
	EventID   string
	EventType string
	Errs      []error
}

// Error returns the error message.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("stoat: %d subscriber(s) failed for event %s (%s): %v",
		len(e.Errs), e.EventID, e.EventType, errors.Join(e.Errs...))
}

// Is reports whether this error matches the target error.
func (e *DispatchError) Is(target error) bool {
	return target == ErrDispatchFailed
}

// Unwrap returns the individual subscriber errors.
func (e *DispatchError) Unwrap() []error {
	return e.Errs
}

// ProjectionError provides detailed information about a projection failure.
type ProjectionError struct {
	Projection string
	EventID    string
	EventType  string
	Cause      error
}

// Error returns the error message.
func (e *ProjectionError) Error() string {
	return fmt.Sprintf("stoat: projection %q failed on event %s (%s): %v",
		e.Projection, e.EventID, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *ProjectionError) Is(target error) bool {
	return target == ErrProjectionFailed
}

// Unwrap returns the underlying cause.
func (e *ProjectionError) Unwrap() error {
	return e.Cause
}

// classifyBackendError turns a backend error into the store's error taxonomy.
func classifyBackendError(op, aggregateID string, expected int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		conflict := NewVersionConflictError(aggregateID, expected, -1)
		var ce *adapters.ConflictError
		if errors.As(err, &ce) {
			conflict.ActualVersion = ce.Version
		}
		conflict.Cause = err
		return conflict
	}
	return &BackendError{Op: op, Err: err}
}
