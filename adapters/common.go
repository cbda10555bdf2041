package adapters

import (
	"fmt"
)

// ConflictError provides details about a duplicate (aggregate_id, version) pair.
// It is returned by backends when InsertEvents loses a race for a version.
type ConflictError struct {
	AggregateID string
	Version     int64
}

// NewConflictError creates a new ConflictError.
func NewConflictError(aggregateID string, version int64) *ConflictError {
	return &ConflictError{AggregateID: aggregateID, Version: version}
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("stoat: version %d of aggregate %q already exists", e.Version, e.AggregateID)
}

// Is implements errors.Is compatibility.
// Returns true when compared with ErrVersionConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// ValidateRecords checks the shape of a batch passed to InsertEvents.
//
// A batch must be non-empty, target a single aggregate, and carry
// contiguous positive versions in ascending order. Every backend calls
// this before touching storage so a malformed batch never writes anything.
func ValidateRecords(records []EventRecord) error {
	if len(records) == 0 {
		return ErrNoRecords
	}

	aggregateID := records[0].AggregateID
	if aggregateID == "" {
		return ErrEmptyAggregateID
	}

	for i, r := range records {
		if r.AggregateID != aggregateID {
			return fmt.Errorf("%w: batch mixes aggregates %q and %q", ErrInvalidVersion, aggregateID, r.AggregateID)
		}
		if r.Version <= 0 {
			return fmt.Errorf("%w: record %d has version %d", ErrInvalidVersion, i, r.Version)
		}
		if i > 0 && r.Version != records[i-1].Version+1 {
			return fmt.Errorf("%w: record %d has version %d after %d", ErrInvalidVersion, i, r.Version, records[i-1].Version)
		}
	}
	return nil
}

// CopyEventRecord returns a deep copy of the record so callers cannot
// mutate blobs held by in-memory backends.
func CopyEventRecord(r EventRecord) EventRecord {
	r.Data = copyBytes(r.Data)
	r.Metadata = copyBytes(r.Metadata)
	return r
}

// CopySnapshotRecord returns a deep copy of the snapshot.
func CopySnapshotRecord(s SnapshotRecord) SnapshotRecord {
	s.State = copyBytes(s.State)
	return s
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
