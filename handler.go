package stoat

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultSnapshotInterval is the number of versions between automatic snapshots.
const DefaultSnapshotInterval int64 = 10

// Executor decides which events a command produces given the current
// aggregate state. A returned error rejects the command and is passed
// through to the caller unchanged.
type Executor interface {
	Execute(ctx context.Context, agg Aggregate, cmd Command) ([]EventData, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, agg Aggregate, cmd Command) ([]EventData, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, agg Aggregate, cmd Command) ([]EventData, error) {
	return f(ctx, agg, cmd)
}

// AggregateRegistry maps aggregate type names to factories.
type AggregateRegistry struct {
	mu        sync.RWMutex
	factories map[string]AggregateFactory
}

// NewAggregateRegistry creates an empty registry.
func NewAggregateRegistry() *AggregateRegistry {
	return &AggregateRegistry{factories: make(map[string]AggregateFactory)}
}

// Register adds or replaces the factory for an aggregate type.
func (r *AggregateRegistry) Register(aggregateType string, factory AggregateFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[aggregateType] = factory
}

// New creates a fresh aggregate instance of the given type.
func (r *AggregateRegistry) New(aggregateType, id string) (Aggregate, error) {
	r.mu.RLock()
	factory, ok := r.factories[aggregateType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregateType, aggregateType)
	}
	agg := factory(id)
	if agg == nil {
		return nil, ErrNilAggregate
	}
	return agg, nil
}

// Has returns true if a factory is registered for the aggregate type.
func (r *AggregateRegistry) Has(aggregateType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[aggregateType]
	return ok
}

// Types returns the registered aggregate types in sorted order.
func (r *AggregateRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CommandHandler runs the command lifecycle: load, execute, apply, persist,
// and snapshot. Each Handle call works on a freshly loaded aggregate.
type CommandHandler struct {
	store            *EventStore
	registry         *AggregateRegistry
	executor         Executor
	snapshotInterval int64
	logger           Logger
	middleware       []Middleware
	handle           MiddlewareFunc
}

// HandlerOption configures a CommandHandler.
type HandlerOption func(*CommandHandler)

// WithSnapshotInterval sets how many versions pass between automatic
// snapshots. Zero or less disables automatic snapshots.
func WithSnapshotInterval(n int64) HandlerOption {
	return func(h *CommandHandler) {
		h.snapshotInterval = n
	}
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(l Logger) HandlerOption {
	return func(h *CommandHandler) {
		h.logger = l
	}
}

// WithMiddleware adds middleware around Handle.
// Middleware is executed in the order it was added.
func WithMiddleware(middleware ...Middleware) HandlerOption {
	return func(h *CommandHandler) {
		h.middleware = append(h.middleware, middleware...)
	}
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(store *EventStore, registry *AggregateRegistry, executor Executor, opts ...HandlerOption) *CommandHandler {
	h := &CommandHandler{
		store:            store,
		registry:         registry,
		executor:         executor,
		snapshotInterval: DefaultSnapshotInterval,
		logger:           store.logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	h.handle = chain(h.handleCommand, h.middleware)
	return h
}

// Handle validates and executes a command against its aggregate.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	if cmd == nil {
		return NewErrorResult(ErrNilCommand), ErrNilCommand
	}
	if cmd.CommandType() == "" {
		err := &InvalidCommandError{Field: "type"}
		return NewErrorResult(err), err
	}
	if cmd.AggregateID() == "" {
		err := &InvalidCommandError{CommandType: cmd.CommandType(), Field: "aggregateId"}
		return NewErrorResult(err), err
	}
	return h.handle(ctx, cmd)
}

func (h *CommandHandler) handleCommand(ctx context.Context, cmd Command) (CommandResult, error) {
	if v, ok := cmd.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return NewErrorResult(err), err
		}
	}

	agg, err := h.LoadAggregate(ctx, cmd.AggregateType(), cmd.AggregateID())
	if err != nil {
		return NewErrorResult(err), err
	}
	loadedVersion := agg.Version()

	produced, err := h.executor.Execute(ctx, agg, cmd)
	if err != nil {
		return NewErrorResult(err), err
	}
	if len(produced) == 0 {
		return NewSuccessResult(agg.AggregateID(), loadedVersion, 0), nil
	}

	metadata := commandMetadata(ctx, cmd)
	for _, data := range produced {
		data.AggregateID = cmd.AggregateID()
		data.AggregateType = cmd.AggregateType()
		if data.Metadata.IsEmpty() {
			data.Metadata = metadata
		}
		if err := Apply(agg, data); err != nil {
			return NewErrorResult(err), err
		}
	}

	uncommitted := agg.UncommittedEvents()
	batch := make([]EventData, len(uncommitted))
	for i, e := range uncommitted {
		batch[i] = EventData{
			AggregateID:   e.AggregateID,
			AggregateType: e.AggregateType,
			Type:          e.Type,
			Data:          e.Data,
			Metadata:      e.Metadata,
		}
	}

	appended, err := h.store.AppendAll(ctx, batch, ExpectVersion(loadedVersion))
	if err != nil {
		return NewErrorResult(err), err
	}
	agg.MarkEventsAsCommitted()

	version := appended[len(appended)-1].Version
	h.maybeSnapshot(ctx, agg, loadedVersion, version)

	return NewSuccessResult(agg.AggregateID(), version, len(appended)), nil
}

// maybeSnapshot snapshots when the append crossed a multiple of the interval.
// Failures are logged; the events are already durable.
func (h *CommandHandler) maybeSnapshot(ctx context.Context, agg Aggregate, from, to int64) {
	if h.snapshotInterval <= 0 || to/h.snapshotInterval == from/h.snapshotInterval {
		return
	}
	s, ok := agg.(Snapshotter)
	if !ok {
		return
	}

	if err := h.store.CreateSnapshot(ctx, agg.AggregateID(), s.SnapshotState(), to); err != nil {
		h.logger.Warn("Automatic snapshot failed",
			"aggregateId", agg.AggregateID(),
			"version", to,
			"error", err,
		)
	}
}

// LoadAggregate reconstructs an aggregate from its latest snapshot and the
// events after it. A snapshot that cannot be restored is ignored and the
// full history is replayed instead.
func (h *CommandHandler) LoadAggregate(ctx context.Context, aggregateType, id string) (Aggregate, error) {
	agg, err := h.registry.New(aggregateType, id)
	if err != nil {
		return nil, err
	}

	from := int64(0)
	if restorer, ok := agg.(Snapshotter); ok {
		snapshot, err := h.store.GetSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			restoreErr := restorer.RestoreState(func(v interface{}) error {
				return h.store.DecodeSnapshot(snapshot, v)
			})
			if restoreErr == nil {
				restoreErr = restoreVersion(agg, snapshot.Version)
			}
			if restoreErr == nil {
				from = snapshot.Version + 1
			} else {
				h.logger.Warn("Ignoring snapshot that could not be restored",
					"aggregateId", id,
					"version", snapshot.Version,
					"error", restoreErr,
				)
				if agg, err = h.registry.New(aggregateType, id); err != nil {
					return nil, err
				}
			}
		}
	}

	events, err := h.store.GetEvents(ctx, id, from)
	if err != nil {
		return nil, err
	}
	if err := LoadFromHistory(agg, events); err != nil {
		return nil, err
	}
	return agg, nil
}

func commandMetadata(ctx context.Context, cmd Command) Metadata {
	var m Metadata
	if c, ok := cmd.(metadataCarrier); ok {
		m = c.EventMetadata()
	}
	if m.CorrelationID == "" {
		m.CorrelationID = CorrelationIDFromContext(ctx)
	}
	return m
}
