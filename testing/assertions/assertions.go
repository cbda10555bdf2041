// Package assertions provides event assertion helpers for tests of
// event-sourced code. Payloads are compared as decoded JSON.
package assertions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/go-stoat"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// AssertEventTypes checks that the events have the expected types in order.
func AssertEventTypes(t TB, events []stoat.Event, types ...string) {
	t.Helper()

	if len(events) != len(types) {
		t.Fatalf("Expected %d events, got %d: %v", len(types), len(events), eventTypes(events))
	}

	for i, expectedType := range types {
		if events[i].Type != expectedType {
			t.Errorf("Event %d: expected type %s, got %s", i, expectedType, events[i].Type)
		}
	}
}

// AssertEventCount checks the number of events.
func AssertEventCount(t TB, events []stoat.Event, expected int) {
	t.Helper()

	if len(events) != expected {
		t.Errorf("Expected %d events, got %d", expected, len(events))
	}
}

// AssertNoEvents checks that no events were produced.
func AssertNoEvents(t TB, events []stoat.Event) {
	t.Helper()

	if len(events) > 0 {
		t.Errorf("Expected no events, got %d: %v", len(events), eventTypes(events))
	}
}

// DecodeEvent unmarshals the event's JSON payload into T.
func DecodeEvent[T any](t TB, event stoat.Event) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(event.Data, &v); err != nil {
		t.Fatalf("Event %s v%d: cannot decode %s into %T: %v", event.AggregateID, event.Version, event.Type, v, err)
	}
	return v
}

// AssertEventData checks that the event's payload decodes to expected.
// The event type must equal the struct name of T.
func AssertEventData[T any](t TB, event stoat.Event, expected T) {
	t.Helper()

	if want := stoat.GetEventType(expected); event.Type != want {
		t.Fatalf("Event is of type %s, expected %s", event.Type, want)
	}

	actual := DecodeEvent[T](t, event)
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("Event data mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
}

// AssertLastEvent checks the last event matches the expected payload.
func AssertLastEvent[T any](t TB, events []stoat.Event, expected T) {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("Expected at least one event, got none")
	}

	AssertEventData(t, events[len(events)-1], expected)
}

// AssertContainsEventType checks that at least one event has the given type.
func AssertContainsEventType(t TB, events []stoat.Event, eventType string) {
	t.Helper()

	if CountMatches(events, MatchEventType(eventType)) == 0 {
		t.Errorf("Events do not contain event of type %s", eventType)
	}
}

// AssertContiguousVersions checks that each aggregate's events carry
// versions 1, 2, 3, ... in order with strictly increasing global positions.
func AssertContiguousVersions(t TB, events []stoat.Event) {
	t.Helper()

	next := make(map[string]int64)
	var lastPos uint64
	for i, e := range events {
		want := next[e.AggregateID] + 1
		if e.Version != want {
			t.Errorf("Event %d (%s): expected version %d, got %d", i, e.AggregateID, want, e.Version)
		}
		next[e.AggregateID] = e.Version

		if i > 0 && e.GlobalPosition <= lastPos {
			t.Errorf("Event %d: global position %d does not follow %d", i, e.GlobalPosition, lastPos)
		}
		lastPos = e.GlobalPosition
	}
}

// AssertCorrelated checks that every event carries the correlation ID.
func AssertCorrelated(t TB, events []stoat.Event, correlationID string) {
	t.Helper()

	for i, e := range events {
		if e.Metadata.CorrelationID != correlationID {
			t.Errorf("Event %d (%s): expected correlation %q, got %q", i, e.Type, correlationID, e.Metadata.CorrelationID)
		}
	}
}

// EventDiff represents a difference between expected and actual events.
type EventDiff struct {
	Index    int
	Expected *stoat.EventData
	Actual   *stoat.Event
	Type     DiffType
}

// DiffType represents the type of difference.
type DiffType int

const (
	// DiffMissing indicates an expected event was not present.
	DiffMissing DiffType = iota
	// DiffExtra indicates an unexpected event was present.
	DiffExtra
	// DiffMismatch indicates event type or data did not match.
	DiffMismatch
)

// String returns a human-readable representation of the diff type.
func (d DiffType) String() string {
	switch d {
	case DiffMissing:
		return "missing"
	case DiffExtra:
		return "extra"
	case DiffMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// DiffEvents compares expected event data with stored events position by position.
// An expected AggregateID, when set, must match too.
func DiffEvents(expected []stoat.EventData, actual []stoat.Event) []EventDiff {
	var diffs []EventDiff

	maxLen := len(expected)
	if len(actual) > maxLen {
		maxLen = len(actual)
	}

	for i := 0; i < maxLen; i++ {
		switch {
		case i >= len(expected):
			diffs = append(diffs, EventDiff{Index: i, Actual: &actual[i], Type: DiffExtra})
		case i >= len(actual):
			diffs = append(diffs, EventDiff{Index: i, Expected: &expected[i], Type: DiffMissing})
		case !Matches(expected[i], actual[i]):
			diffs = append(diffs, EventDiff{Index: i, Expected: &expected[i], Actual: &actual[i], Type: DiffMismatch})
		}
	}

	return diffs
}

// Matches reports whether the event has the expected type and payload.
func Matches(expected stoat.EventData, actual stoat.Event) bool {
	if expected.Type != actual.Type {
		return false
	}
	if expected.AggregateID != "" && expected.AggregateID != actual.AggregateID {
		return false
	}
	return SamePayload(expected.Data, actual.Data)
}

// SamePayload compares two payloads as JSON values, or byte for byte
// when either is not valid JSON.
func SamePayload(a, b []byte) bool {
	if !json.Valid(a) || !json.Valid(b) {
		return bytes.Equal(a, b)
	}
	var va, vb interface{}
	_ = json.Unmarshal(a, &va)
	_ = json.Unmarshal(b, &vb)
	return reflect.DeepEqual(va, vb)
}

// FormatDiffs formats event diffs as a human-readable string.
func FormatDiffs(diffs []EventDiff) string {
	if len(diffs) == 0 {
		return "no differences"
	}

	var buf strings.Builder
	buf.WriteString("Event differences:\n")

	for _, diff := range diffs {
		fmt.Fprintf(&buf, "  Event %d (%s):\n", diff.Index, diff.Type)
		switch diff.Type {
		case DiffExtra:
			fmt.Fprintf(&buf, "    + %s %s (unexpected)\n", diff.Actual.Type, diff.Actual.Data)
		case DiffMissing:
			fmt.Fprintf(&buf, "    - %s %s (missing)\n", diff.Expected.Type, diff.Expected.Data)
		case DiffMismatch:
			fmt.Fprintf(&buf, "    - %s %s\n", diff.Expected.Type, diff.Expected.Data)
			fmt.Fprintf(&buf, "    + %s %s\n", diff.Actual.Type, diff.Actual.Data)
		}
	}

	return buf.String()
}

// AssertEventsEqual fails with a diff if the events differ from expected.
func AssertEventsEqual(t TB, expected []stoat.EventData, actual []stoat.Event) {
	t.Helper()

	if diffs := DiffEvents(expected, actual); len(diffs) > 0 {
		t.Error(FormatDiffs(diffs))
	}
}

// EventMatcher decides whether an event matches some criteria.
type EventMatcher func(event stoat.Event) bool

// MatchEventType matches events of the given type.
func MatchEventType(eventType string) EventMatcher {
	return func(event stoat.Event) bool {
		return event.Type == eventType
	}
}

// MatchAggregate matches events of the given aggregate.
func MatchAggregate(aggregateID string) EventMatcher {
	return func(event stoat.Event) bool {
		return event.AggregateID == aggregateID
	}
}

// MatchPayload matches events whose type and payload equal the encoded payload.
func MatchPayload(payload interface{}) EventMatcher {
	expected := stoat.MustEncode(stoat.NewJSONSerializer(), payload)
	return func(event stoat.Event) bool {
		return Matches(expected, event)
	}
}

// AssertAnyMatch checks that at least one event matches the matcher.
func AssertAnyMatch(t TB, events []stoat.Event, matcher EventMatcher) {
	t.Helper()

	if CountMatches(events, matcher) == 0 {
		t.Error("No event matched the criteria")
	}
}

// AssertNoneMatch checks that no events match the matcher.
func AssertNoneMatch(t TB, events []stoat.Event, matcher EventMatcher) {
	t.Helper()

	for i, event := range events {
		if matcher(event) {
			t.Errorf("Event %d unexpectedly matched: %s v%d", i, event.Type, event.Version)
		}
	}
}

// CountMatches returns the number of events that match the matcher.
func CountMatches(events []stoat.Event, matcher EventMatcher) int {
	count := 0
	for _, event := range events {
		if matcher(event) {
			count++
		}
	}
	return count
}

// FilterEvents returns events that match the matcher.
func FilterEvents(events []stoat.Event, matcher EventMatcher) []stoat.Event {
	var result []stoat.Event
	for _, event := range events {
		if matcher(event) {
			result = append(result, event)
		}
	}
	return result
}

func eventTypes(events []stoat.Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
