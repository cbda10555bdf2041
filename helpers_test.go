package stoat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
)

// testLogger records messages per level.
type testLogger struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLogs = append(l.debugLogs, msg)
}

func (l *testLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLogs = append(l.infoLogs, msg)
}

func (l *testLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnLogs = append(l.warnLogs, msg)
}

func (l *testLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, msg)
}

func (l *testLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnLogs...)
}

func (l *testLogger) errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errorLogs...)
}

var fixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(opts ...Option) (*EventStore, *memory.Backend) {
	backend := memory.NewBackend()
	opts = append([]Option{WithClock(func() time.Time { return fixedTime })}, opts...)
	return New(backend, opts...), backend
}

// Test payloads.
type UserCreated struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type EmailChanged struct {
	Email string `json:"email"`
}

type RoleChanged struct {
	Role string `json:"role"`
}

type CreditsAdded struct {
	Amount int `json:"amount"`
}

type GiftPurchased struct {
	Gift string `json:"gift"`
	Cost int    `json:"cost"`
}

func payload(aggregateID string, v interface{}) EventData {
	data := MustEncode(NewJSONSerializer(), v)
	data.AggregateID = aggregateID
	data.AggregateType = "User"
	return data
}

// userState is the replayable view of a user.
type userState struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Credits int    `json:"credits"`
	Gifts   int    `json:"gifts"`
}

func (s userState) apply(e Event) (userState, error) {
	switch e.Type {
	case "UserCreated":
		var p UserCreated
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return s, err
		}
		s.Email, s.Role = p.Email, p.Role
	case "EmailChanged":
		var p EmailChanged
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return s, err
		}
		s.Email = p.Email
	case "RoleChanged":
		var p RoleChanged
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return s, err
		}
		s.Role = p.Role
	case "CreditsAdded":
		var p CreditsAdded
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return s, err
		}
		s.Credits += p.Amount
	case "GiftPurchased":
		var p GiftPurchased
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return s, err
		}
		s.Credits -= p.Cost
		s.Gifts++
	}
	return s, nil
}

func reduceUser(s userState, e Event) (userState, error) {
	return s.apply(e)
}

// testUser is a snapshotting aggregate over userState.
type testUser struct {
	AggregateBase
	userState
	applied []string
}

func newTestUser(id string) *testUser {
	return &testUser{AggregateBase: NewAggregateBase(id, "User")}
}

func (u *testUser) When(e Event) error {
	next, err := u.userState.apply(e)
	if err != nil {
		return err
	}
	u.userState = next
	u.applied = append(u.applied, e.Type)
	return nil
}

func (u *testUser) SnapshotState() interface{} {
	return u.userState
}

func (u *testUser) RestoreState(decode func(v interface{}) error) error {
	return decode(&u.userState)
}

var errInsufficientCredits = errors.New("insufficient credits")

// Test commands.
type addCredits struct {
	CommandBase
	UserID string
	Amount int
}

func (c addCredits) CommandType() string   { return "AddCredits" }
func (c addCredits) AggregateID() string   { return c.UserID }
func (c addCredits) AggregateType() string { return "User" }

type purchaseGift struct {
	UserID string
	Gift   string
	Cost   int
}

func (c purchaseGift) CommandType() string   { return "PurchaseGift" }
func (c purchaseGift) AggregateID() string   { return c.UserID }
func (c purchaseGift) AggregateType() string { return "User" }

func (c purchaseGift) Validate() error {
	if c.Cost <= 0 {
		return fmt.Errorf("cost must be positive, got %d", c.Cost)
	}
	return nil
}

type createUser struct {
	UserID string
	Email  string
}

func (c createUser) CommandType() string   { return "CreateUser" }
func (c createUser) AggregateID() string   { return c.UserID }
func (c createUser) AggregateType() string { return "User" }

func userExecutor() Executor {
	s := NewJSONSerializer()
	return ExecutorFunc(func(ctx context.Context, agg Aggregate, cmd Command) ([]EventData, error) {
		user := agg.(*testUser)
		switch c := cmd.(type) {
		case createUser:
			return []EventData{MustEncode(s, UserCreated{Email: c.Email, Role: "member"})}, nil
		case addCredits:
			return []EventData{MustEncode(s, CreditsAdded{Amount: c.Amount})}, nil
		case purchaseGift:
			if user.Credits < c.Cost {
				return nil, errInsufficientCredits
			}
			return []EventData{MustEncode(s, GiftPurchased{Gift: c.Gift, Cost: c.Cost})}, nil
		}
		return nil, fmt.Errorf("unknown command %s", cmd.CommandType())
	})
}

func userRegistry() *AggregateRegistry {
	r := NewAggregateRegistry()
	r.Register("User", func(id string) Aggregate { return newTestUser(id) })
	return r
}

// faultyBackend wraps the memory backend with injectable failures.
type faultyBackend struct {
	*memory.Backend

	mu             sync.Mutex
	insertErr      error
	loadErr        error
	snapshotErr    error
	currentVersion func(v int64) int64
	// holdCommit makes InsertEvents write, then block until ctx is done.
	holdCommit bool
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{Backend: memory.NewBackend()}
}

func (b *faultyBackend) failInsert(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertErr = err
}

func (b *faultyBackend) InsertEvents(ctx context.Context, records []adapters.EventRecord) ([]adapters.EventRecord, error) {
	b.mu.Lock()
	err, hold := b.insertErr, b.holdCommit
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	stored, err := b.Backend.InsertEvents(ctx, records)
	if err != nil || !hold {
		return stored, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *faultyBackend) LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.EventRecord, error) {
	b.mu.Lock()
	err := b.loadErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.Backend.LoadEvents(ctx, aggregateID, fromVersion)
}

func (b *faultyBackend) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	v, err := b.Backend.CurrentVersion(ctx, aggregateID)
	b.mu.Lock()
	skew := b.currentVersion
	b.mu.Unlock()
	if err == nil && skew != nil {
		v = skew(v)
	}
	return v, err
}

func (b *faultyBackend) UpsertSnapshot(ctx context.Context, s adapters.SnapshotRecord) error {
	b.mu.Lock()
	err := b.snapshotErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.Backend.UpsertSnapshot(ctx, s)
}
