package testutil

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
)

// MockT is a testing.TB that records failures instead of reporting them.
// It lets assertion helpers be tested for the failures they raise.
// Fatal and FailNow end the calling goroutine; run code under RunWithMockT.
type MockT struct {
	testing.TB

	mu       sync.Mutex
	failed   bool
	fatal    bool
	messages []string
	logs     []string
}

// NewMockT creates a new MockT.
func NewMockT() *MockT {
	return &MockT{}
}

func (m *MockT) record(fatal bool, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = true
	m.fatal = m.fatal || fatal
	if msg != "" {
		m.messages = append(m.messages, msg)
	}
}

// Helper implements testing.TB.
func (m *MockT) Helper() {}

// Name implements testing.TB.
func (m *MockT) Name() string { return "MockT" }

// Cleanup implements testing.TB. Cleanup functions are not run.
func (m *MockT) Cleanup(func()) {}

// Log implements testing.TB.
func (m *MockT) Log(args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, fmt.Sprint(args...))
}

// Logf implements testing.TB.
func (m *MockT) Logf(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, fmt.Sprintf(format, args...))
}

// Error implements testing.TB.
func (m *MockT) Error(args ...any) { m.record(false, fmt.Sprint(args...)) }

// Errorf implements testing.TB.
func (m *MockT) Errorf(format string, args ...any) { m.record(false, fmt.Sprintf(format, args...)) }

// Fail implements testing.TB.
func (m *MockT) Fail() { m.record(false, "") }

// FailNow implements testing.TB.
func (m *MockT) FailNow() {
	m.record(true, "")
	runtime.Goexit()
}

// Fatal implements testing.TB.
func (m *MockT) Fatal(args ...any) {
	m.record(true, fmt.Sprint(args...))
	runtime.Goexit()
}

// Fatalf implements testing.TB.
func (m *MockT) Fatalf(format string, args ...any) {
	m.record(true, fmt.Sprintf(format, args...))
	runtime.Goexit()
}

// Failed implements testing.TB.
func (m *MockT) Failed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// Fataled reports whether Fatal, Fatalf or FailNow was called.
func (m *MockT) Fataled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// Messages returns the recorded failure messages.
func (m *MockT) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// Logs returns the recorded log lines.
func (m *MockT) Logs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.logs...)
}

// RunWithMockT runs fn on its own goroutine with a fresh MockT and waits for it.
func RunWithMockT(fn func(m *MockT)) *MockT {
	mt := NewMockT()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(mt)
	}()
	<-done
	return mt
}
