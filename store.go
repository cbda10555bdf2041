package stoat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// AnyVersion skips the expected-version check on append.
const AnyVersion int64 = -1

// EventStore is the single source of truth for what has happened.
// It appends events with per-aggregate version integrity, serves reads,
// dispatches appended events to subscribers, and manages snapshots.
type EventStore struct {
	backend    adapters.Backend
	serializer Serializer
	codec      StateCodec
	logger     Logger
	dispatcher Dispatcher
	publishers []Publisher
	cache      SnapshotCache
	recent     *recentBuffer
	locks      *keyedMutex
	clock      func() time.Time
	newID      func() string
	onDispatch func(Event, error)
	recentSize int
}

// Logger defines the logging interface for the event store.
// Args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// Option configures an EventStore.
type Option func(*EventStore)

// WithSerializer sets the payload serializer used by helpers such as Encode.
func WithSerializer(s Serializer) Option {
	return func(es *EventStore) {
		es.serializer = s
	}
}

// WithStateCodec sets the codec used for snapshot state.
func WithStateCodec(c StateCodec) Option {
	return func(es *EventStore) {
		es.codec = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(es *EventStore) {
		es.logger = l
	}
}

// WithDispatcher replaces the in-process Bus.
func WithDispatcher(d Dispatcher) Option {
	return func(es *EventStore) {
		es.dispatcher = d
	}
}

// WithPublisher adds a publisher that receives every appended event after
// local subscribers ran.
func WithPublisher(p Publisher) Option {
	return func(es *EventStore) {
		es.publishers = append(es.publishers, p)
	}
}

// WithSnapshotCache replaces the process-local snapshot cache.
func WithSnapshotCache(c SnapshotCache) Option {
	return func(es *EventStore) {
		es.cache = c
	}
}

// WithRecentBufferSize sets how many appended events are kept in memory.
// Zero disables the buffer.
func WithRecentBufferSize(n int) Option {
	return func(es *EventStore) {
		es.recentSize = n
	}
}

// WithClock overrides the time source for event and snapshot timestamps.
func WithClock(clock func() time.Time) Option {
	return func(es *EventStore) {
		es.clock = clock
	}
}

// WithIDGenerator overrides event ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(es *EventStore) {
		es.newID = gen
	}
}

// WithDispatchErrorHandler registers a callback for subscriber and publisher
// failures. Those failures never fail the append, because the event is durable.
func WithDispatchErrorHandler(fn func(Event, error)) Option {
	return func(es *EventStore) {
		es.onDispatch = fn
	}
}

// New creates a new EventStore over the given backend.
func New(backend adapters.Backend, opts ...Option) *EventStore {
	es := &EventStore{
		backend:    backend,
		serializer: NewJSONSerializer(),
		codec:      JSONStateCodec{},
		logger:     &noopLogger{},
		dispatcher: NewBus(),
		cache:      NewMemorySnapshotCache(),
		locks:      newKeyedMutex(),
		clock:      time.Now,
		newID:      newEventID,
		recentSize: DefaultRecentBufferSize,
	}

	for _, opt := range opts {
		opt(es)
	}

	es.recent = newRecentBuffer(es.recentSize)
	return es
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Serializer returns the event store's payload serializer.
func (s *EventStore) Serializer() Serializer {
	return s.serializer
}

// StateCodec returns the codec used for snapshot state.
func (s *EventStore) StateCodec() StateCodec {
	return s.codec
}

// Backend returns the underlying persistence backend.
func (s *EventStore) Backend() adapters.Backend {
	return s.backend
}

// Dispatcher returns the subscription surface.
func (s *EventStore) Dispatcher() Dispatcher {
	return s.dispatcher
}

// AppendOption configures an append operation.
type AppendOption func(*appendConfig)

type appendConfig struct {
	expectedVersion int64
}

// ExpectVersion requires the aggregate to be at version v before the append.
func ExpectVersion(v int64) AppendOption {
	return func(c *appendConfig) {
		c.expectedVersion = v
	}
}

// Append validates, versions, persists, buffers and dispatches one event.
// It returns the event enriched with its ID, version and timestamp.
func (s *EventStore) Append(ctx context.Context, data EventData, opts ...AppendOption) (Event, error) {
	events, err := s.AppendAll(ctx, []EventData{data}, opts...)
	if err != nil {
		return Event{}, err
	}
	return events[0], nil
}

// AppendAll appends a batch of events for one aggregate atomically.
// Either every event is persisted and dispatched, or none is.
func (s *EventStore) AppendAll(ctx context.Context, batch []EventData, opts ...AppendOption) ([]Event, error) {
	if len(batch) == 0 {
		return nil, &InvalidEventError{Field: "events"}
	}

	cfg := appendConfig{expectedVersion: AnyVersion}
	for _, opt := range opts {
		opt(&cfg)
	}

	aggregateID := batch[0].AggregateID
	metadata := make([][]byte, len(batch))
	for i, d := range batch {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if d.AggregateID != aggregateID {
			return nil, &InvalidEventError{Field: "single aggregateId per batch"}
		}
		m, err := encodeMetadata(d.Metadata)
		if err != nil {
			return nil, NewSerializationError(d.Type, "serialize", err)
		}
		metadata[i] = m
	}

	unlock := s.locks.lock(aggregateID)
	defer unlock()

	current, err := s.backend.CurrentVersion(ctx, aggregateID)
	if err != nil {
		return nil, &BackendError{Op: "current version", Err: err}
	}
	if cfg.expectedVersion != AnyVersion && cfg.expectedVersion != current {
		return nil, NewVersionConflictError(aggregateID, cfg.expectedVersion, current)
	}

	now := s.clock().UTC()
	records := make([]adapters.EventRecord, len(batch))
	for i, d := range batch {
		records[i] = adapters.EventRecord{
			ID:            s.newID(),
			AggregateID:   d.AggregateID,
			AggregateType: d.AggregateType,
			Type:          d.Type,
			Data:          d.Data,
			Metadata:      metadata[i],
			Version:       current + int64(i) + 1,
			Timestamp:     now,
		}
	}

	stored, err := s.backend.InsertEvents(ctx, records)
	if err != nil {
		s.logger.Warn("Append rejected",
			"aggregateId", aggregateID,
			"version", current+1,
			"error", err,
		)
		return nil, classifyBackendError("insert", aggregateID, current, err)
	}

	events := make([]Event, len(stored))
	for i, r := range stored {
		events[i] = Event{
			ID:             r.ID,
			AggregateID:    r.AggregateID,
			AggregateType:  r.AggregateType,
			Type:           r.Type,
			Data:           r.Data,
			Metadata:       batch[i].Metadata,
			Version:        r.Version,
			GlobalPosition: r.GlobalPosition,
			Timestamp:      r.Timestamp,
		}
	}

	s.recent.add(events...)

	s.logger.Debug("Appended events",
		"aggregateId", aggregateID,
		"count", len(events),
		"version", events[len(events)-1].Version,
	)

	// Dispatch while still holding the aggregate lock so subscribers observe
	// one aggregate's events in version order.
	for _, e := range events {
		s.dispatch(ctx, e)
	}

	return events, nil
}

func (s *EventStore) dispatch(ctx context.Context, e Event) {
	if err := s.dispatcher.Publish(ctx, e); err != nil {
		s.reportDispatch(e, err)
	}
	for _, p := range s.publishers {
		if err := p.Publish(ctx, e); err != nil {
			s.reportDispatch(e, err)
		}
	}
}

func (s *EventStore) reportDispatch(e Event, err error) {
	s.logger.Error("Event dispatch failed",
		"eventId", e.ID,
		"aggregateId", e.AggregateID,
		"type", e.Type,
		"version", e.Version,
		"error", err,
	)
	if s.onDispatch != nil {
		s.onDispatch(e, err)
	}
}

// GetEvents returns events of the aggregate with version >= fromVersion in
// ascending version order. An unknown aggregate yields an empty slice.
func (s *EventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]Event, error) {
	if aggregateID == "" {
		return nil, &InvalidEventError{Field: "aggregateId"}
	}
	if fromVersion < 0 {
		fromVersion = 0
	}

	records, err := s.backend.LoadEvents(ctx, aggregateID, fromVersion)
	if err != nil {
		return nil, &BackendError{Op: "load events", Err: err}
	}
	return eventsFromRecords(records)
}

// GetEventsByType returns the most recent events of a type across all
// aggregates, newest first. A limit <= 0 returns every matching event.
func (s *EventStore) GetEventsByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if eventType == "" {
		return nil, &InvalidEventError{Field: "type"}
	}

	records, err := s.backend.LoadEventsByType(ctx, eventType, limit)
	if err != nil {
		return nil, &BackendError{Op: "load events by type", Err: err}
	}
	return eventsFromRecords(records)
}

// RecentEvents returns up to limit of the most recently appended events
// held in memory by this process, newest first.
func (s *EventStore) RecentEvents(limit int) []Event {
	return s.recent.newest(limit)
}

// Subscribe registers a handler for events of one type. Only events
// appended after registration are delivered.
func (s *EventStore) Subscribe(eventType string, handler EventHandler) *Subscription {
	return s.dispatcher.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for every appended event.
func (s *EventStore) SubscribeAll(handler EventHandler) *Subscription {
	return s.dispatcher.SubscribeAll(handler)
}

// CreateSnapshot stores state as the snapshot of the aggregate at version,
// replacing any previous snapshot in the backend and the cache.
//
// A []byte state is stored as is; anything else is encoded with the
// store's StateCodec. The version must lie within the aggregate's history.
func (s *EventStore) CreateSnapshot(ctx context.Context, aggregateID string, state interface{}, version int64) error {
	if aggregateID == "" {
		return &InvalidEventError{Field: "aggregateId"}
	}

	current, err := s.backend.CurrentVersion(ctx, aggregateID)
	if err != nil {
		return &BackendError{Op: "current version", Err: err}
	}
	if version < 1 || version > current {
		return &SnapshotVersionError{AggregateID: aggregateID, Version: version, CurrentVersion: current}
	}

	encoded, ok := state.([]byte)
	if !ok {
		encoded, err = s.codec.Marshal(state)
		if err != nil {
			return NewSerializationError("snapshot", "serialize", err)
		}
	}

	snapshot := Snapshot{
		AggregateID: aggregateID,
		State:       encoded,
		Version:     version,
		Timestamp:   s.clock().UTC(),
	}

	if err := s.backend.UpsertSnapshot(ctx, snapshot.record()); err != nil {
		return &BackendError{Op: "upsert snapshot", Err: err}
	}
	s.cacheSnapshot(ctx, snapshot)

	s.logger.Debug("Snapshot created", "aggregateId", aggregateID, "version", version)
	return nil
}

// GetSnapshot returns the latest snapshot of the aggregate, or nil if none exists.
// The cache is consulted first; a miss reads through to the backend.
func (s *EventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	if aggregateID == "" {
		return nil, &InvalidEventError{Field: "aggregateId"}
	}

	if cached, ok := s.cache.Get(ctx, aggregateID); ok {
		return &cached, nil
	}

	record, err := s.backend.LoadSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, &BackendError{Op: "load snapshot", Err: err}
	}
	if record == nil {
		return nil, nil
	}

	snapshot := snapshotFromRecord(*record)
	s.fillSnapshotCache(ctx, snapshot)
	return &snapshot, nil
}

func (s *EventStore) cacheSnapshot(ctx context.Context, snapshot Snapshot) {
	s.warnCacheFailure(snapshot, s.cache.Put(ctx, snapshot))
}

// fillSnapshotCache populates the cache after a backend read. A snapshot
// created meanwhile is not replaced when the cache supports PutIfNewer.
func (s *EventStore) fillSnapshotCache(ctx context.Context, snapshot Snapshot) {
	if f, ok := s.cache.(SnapshotFiller); ok {
		s.warnCacheFailure(snapshot, f.PutIfNewer(ctx, snapshot))
		return
	}
	s.cacheSnapshot(ctx, snapshot)
}

func (s *EventStore) warnCacheFailure(snapshot Snapshot, err error) {
	if err != nil {
		s.logger.Warn("Snapshot cache write failed",
			"aggregateId", snapshot.AggregateID,
			"error", err,
		)
	}
}

// DecodeSnapshot unmarshals the snapshot state into target with the store's codec.
func (s *EventStore) DecodeSnapshot(snapshot *Snapshot, target interface{}) error {
	if snapshot == nil {
		return nil
	}
	if err := s.codec.Unmarshal(snapshot.State, target); err != nil {
		return NewSerializationError("snapshot", "deserialize", err)
	}
	return nil
}

// Reducer folds one event into a state value. It must be deterministic.
type Reducer[S any] func(state S, event Event) (S, error)

// ReplayEvents rebuilds state for an aggregate: it starts from the decoded
// snapshot (or the zero S) and folds every event newer than the snapshot.
func ReplayEvents[S any](ctx context.Context, store *EventStore, aggregateID string, reducer Reducer[S]) (S, error) {
	var state S

	snapshot, err := store.GetSnapshot(ctx, aggregateID)
	if err != nil {
		return state, err
	}

	from := int64(0)
	if snapshot != nil {
		if err := store.DecodeSnapshot(snapshot, &state); err != nil {
			return state, err
		}
		from = snapshot.Version + 1
	}

	events, err := store.GetEvents(ctx, aggregateID, from)
	if err != nil {
		return state, err
	}

	for _, e := range events {
		next, err := reducer(state, e)
		if err != nil {
			var zero S
			return zero, &ReplayError{AggregateID: aggregateID, EventType: e.Type, Version: e.Version, Cause: err}
		}
		state = next
	}
	return state, nil
}

// Initialize sets up the required storage schema.
func (s *EventStore) Initialize(ctx context.Context) error {
	if err := s.backend.Initialize(ctx); err != nil {
		return &BackendError{Op: "initialize", Err: err}
	}
	return nil
}

// Close releases resources held by the backend.
func (s *EventStore) Close() error {
	return s.backend.Close()
}

func eventsFromRecords(records []adapters.EventRecord) ([]Event, error) {
	events := make([]Event, len(records))
	for i, r := range records {
		metadata, err := decodeMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("stoat: event %s: %w", r.ID, err)
		}
		events[i] = Event{
			ID:             r.ID,
			AggregateID:    r.AggregateID,
			AggregateType:  r.AggregateType,
			Type:           r.Type,
			Data:           r.Data,
			Metadata:       metadata,
			Version:        r.Version,
			GlobalPosition: r.GlobalPosition,
			Timestamp:      r.Timestamp,
		}
	}
	return events, nil
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu      sync.Mutex
	holders int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.holders++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
