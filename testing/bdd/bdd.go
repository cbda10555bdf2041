// Package bdd provides Given-When-Then fixtures for event-sourced aggregates
// and command handlers.
//
//	bdd.Given(t, testutil.NewUser("user-1"), created, credited).
//		When(func() error { return stoat.Apply(user, gift) }).
//		Then(gift)
package bdd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/testing/assertions"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// TestFixture provides BDD-style testing for aggregates.
type TestFixture struct {
	t         TB
	aggregate stoat.Aggregate
	history   []stoat.EventData
	result    error
	executed  bool
}

// Given sets up the aggregate with historical events.
// The history is loaded as committed events when When runs.
func Given(t TB, aggregate stoat.Aggregate, history ...stoat.EventData) *TestFixture {
	t.Helper()
	return &TestFixture{
		t:         t,
		aggregate: aggregate,
		history:   history,
	}
}

// When loads the history and runs the command function.
// The function should record new events with stoat.Apply and return any error.
func (f *TestFixture) When(commandFunc func() error) *TestFixture {
	f.t.Helper()

	events := make([]stoat.Event, len(f.history))
	for i, data := range f.history {
		events[i] = stoat.Event{
			AggregateID:   f.aggregate.AggregateID(),
			AggregateType: f.aggregate.AggregateType(),
			Type:          data.Type,
			Data:          data.Data,
			Metadata:      data.Metadata,
			Version:       f.aggregate.Version() + int64(i) + 1,
		}
	}
	if err := stoat.LoadFromHistory(f.aggregate, events); err != nil {
		f.t.Fatalf("Failed to load given events: %v", err)
	}

	f.result = commandFunc()
	f.executed = true

	return f
}

func (f *TestFixture) mustHaveRun(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s must be called after When() - no command was executed", step)
	}
}

// Then asserts that the aggregate recorded exactly the expected events.
func (f *TestFixture) Then(expected ...stoat.EventData) {
	f.t.Helper()
	f.mustHaveRun("Then()")

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	if diffs := assertions.DiffEvents(expected, f.aggregate.UncommittedEvents()); len(diffs) > 0 {
		f.t.Error(assertions.FormatDiffs(diffs))
	}
}

// ThenError asserts that the command failed with an error matching expectedErr.
func (f *TestFixture) ThenError(expectedErr error) {
	f.t.Helper()
	f.mustHaveRun("ThenError()")

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !errors.Is(f.result, expectedErr) {
		f.t.Errorf("Expected error %v, got %v", expectedErr, f.result)
	}
}

// ThenErrorContains asserts that the error message contains a substring.
func (f *TestFixture) ThenErrorContains(substring string) {
	f.t.Helper()
	f.mustHaveRun("ThenErrorContains()")

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !strings.Contains(f.result.Error(), substring) {
		f.t.Errorf("Expected error containing %q, got %q", substring, f.result.Error())
	}
}

// ThenNoEvents asserts that the command succeeded without recording events.
func (f *TestFixture) ThenNoEvents() {
	f.t.Helper()
	f.mustHaveRun("ThenNoEvents()")

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	if uncommitted := f.aggregate.UncommittedEvents(); len(uncommitted) > 0 {
		f.t.Errorf("Expected no events, got %d: %+v", len(uncommitted), uncommitted)
	}
}

// ThenVersion asserts the aggregate's version after the command.
func (f *TestFixture) ThenVersion(expected int64) {
	f.t.Helper()
	f.mustHaveRun("ThenVersion()")

	if v := f.aggregate.Version(); v != expected {
		f.t.Errorf("Expected version %d, got %d", expected, v)
	}
}

// CommandTestFixture runs commands through a CommandHandler against a real store.
type CommandTestFixture struct {
	t        TB
	ctx      context.Context
	handler  *stoat.CommandHandler
	store    *stoat.EventStore
	existing []stoat.EventData
	cmd      stoat.Command
	before   int64
	result   stoat.CommandResult
	err      error
	executed bool
}

// GivenCommand creates a command fixture over the handler and the store it writes to.
func GivenCommand(t TB, handler *stoat.CommandHandler, store *stoat.EventStore) *CommandTestFixture {
	t.Helper()
	return &CommandTestFixture{
		t:       t,
		ctx:     context.Background(),
		handler: handler,
		store:   store,
	}
}

// WithContext sets a custom context for the command execution.
func (f *CommandTestFixture) WithContext(ctx context.Context) *CommandTestFixture {
	f.ctx = ctx
	return f
}

// WithExistingEvents queues events to append to the aggregate before the command runs.
func (f *CommandTestFixture) WithExistingEvents(aggregateID string, events ...stoat.EventData) *CommandTestFixture {
	for _, e := range events {
		e.AggregateID = aggregateID
		f.existing = append(f.existing, e)
	}
	return f
}

// When appends the existing events and handles the command.
func (f *CommandTestFixture) When(cmd stoat.Command) *CommandTestFixture {
	f.t.Helper()

	for _, e := range f.existing {
		if _, err := f.store.Append(f.ctx, e); err != nil {
			f.t.Fatalf("Failed to store given event: %v", err)
		}
	}

	if cmd != nil && cmd.AggregateID() != "" {
		events, err := f.store.GetEvents(f.ctx, cmd.AggregateID(), 0)
		if err != nil {
			f.t.Fatalf("Failed to load aggregate %s: %v", cmd.AggregateID(), err)
		}
		f.before = int64(len(events))
	}

	f.cmd = cmd
	f.result, f.err = f.handler.Handle(f.ctx, cmd)
	f.executed = true
	return f
}

func (f *CommandTestFixture) mustHaveRun(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s must be called after When() - no command was dispatched", step)
	}
}

// ThenSucceeds asserts the command succeeded.
func (f *CommandTestFixture) ThenSucceeds() *CommandTestFixture {
	f.t.Helper()
	f.mustHaveRun("ThenSucceeds()")

	if f.err != nil {
		f.t.Fatalf("Expected success but got error: %v", f.err)
	}

	if !f.result.IsSuccess() {
		f.t.Fatalf("Expected success result but got error: %v", f.result.Error)
	}

	return f
}

// ThenFails asserts the command failed with the expected error.
func (f *CommandTestFixture) ThenFails(expectedErr error) {
	f.t.Helper()
	f.mustHaveRun("ThenFails()")

	if f.err == nil && f.result.IsSuccess() {
		f.t.Fatal("Expected failure but got success")
	}

	errToCheck := f.err
	if errToCheck == nil {
		errToCheck = f.result.Error
	}

	if !errors.Is(errToCheck, expectedErr) {
		f.t.Errorf("Expected error %v, got %v", expectedErr, errToCheck)
	}
}

// ThenEvents asserts the events the command appended, in order.
func (f *CommandTestFixture) ThenEvents(expected ...stoat.EventData) *CommandTestFixture {
	f.t.Helper()
	f.mustHaveRun("ThenEvents()")
	if f.cmd == nil {
		f.t.Fatal("bdd: ThenEvents() needs a non-nil command")
	}

	events, err := f.store.GetEvents(f.ctx, f.cmd.AggregateID(), f.before+1)
	if err != nil {
		f.t.Fatalf("Failed to load appended events: %v", err)
	}

	if diffs := assertions.DiffEvents(expected, events); len(diffs) > 0 {
		f.t.Error(assertions.FormatDiffs(diffs))
	}

	return f
}

// ThenReturnsAggregateID asserts the result contains the expected aggregate ID.
func (f *CommandTestFixture) ThenReturnsAggregateID(expected string) *CommandTestFixture {
	f.t.Helper()
	f.mustHaveRun("ThenReturnsAggregateID()")

	if f.result.AggregateID != expected {
		f.t.Errorf("Expected aggregate ID %q, got %q", expected, f.result.AggregateID)
	}

	return f
}

// ThenReturnsVersion asserts the result contains the expected version.
func (f *CommandTestFixture) ThenReturnsVersion(expected int64) *CommandTestFixture {
	f.t.Helper()
	f.mustHaveRun("ThenReturnsVersion()")

	if f.result.Version != expected {
		f.t.Errorf("Expected version %d, got %d", expected, f.result.Version)
	}

	return f
}
