package metrics

import (
	"context"
	"time"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Backend wraps an adapters.Backend and records every operation.
type Backend struct {
	backend adapters.Backend
	metrics *Metrics
}

var (
	_ adapters.Backend       = (*Backend)(nil)
	_ adapters.HealthChecker = (*Backend)(nil)
)

// WrapBackend instruments a backend.
func (m *Metrics) WrapBackend(backend adapters.Backend) *Backend {
	return &Backend{backend: backend, metrics: m}
}

// Unwrap returns the instrumented backend.
func (b *Backend) Unwrap() adapters.Backend {
	return b.backend
}

func (b *Backend) observe(op string, start time.Time, err error) {
	m := b.metrics
	m.backendOperationDuration.WithLabelValues(m.serviceName, op).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.RecordError(op + "_error")
	}
	m.backendOperationsTotal.WithLabelValues(m.serviceName, op, status).Inc()
}

// InsertEvents implements adapters.Backend.
func (b *Backend) InsertEvents(ctx context.Context, records []adapters.EventRecord) ([]adapters.EventRecord, error) {
	start := time.Now()
	stored, err := b.backend.InsertEvents(ctx, records)
	b.observe(OperationInsert, start, err)

	if err == nil {
		for _, r := range stored {
			b.metrics.eventsAppendedTotal.WithLabelValues(b.metrics.serviceName, r.Type).Inc()
		}
	}
	return stored, err
}

// LoadEvents implements adapters.Backend.
func (b *Backend) LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.EventRecord, error) {
	start := time.Now()
	records, err := b.backend.LoadEvents(ctx, aggregateID, fromVersion)
	b.observe(OperationLoad, start, err)
	b.countLoaded(records)
	return records, err
}

// LoadEventsByType implements adapters.Backend.
func (b *Backend) LoadEventsByType(ctx context.Context, eventType string, limit int) ([]adapters.EventRecord, error) {
	start := time.Now()
	records, err := b.backend.LoadEventsByType(ctx, eventType, limit)
	b.observe(OperationLoadByType, start, err)
	b.countLoaded(records)
	return records, err
}

func (b *Backend) countLoaded(records []adapters.EventRecord) {
	if len(records) > 0 {
		b.metrics.eventsLoadedTotal.WithLabelValues(b.metrics.serviceName).Add(float64(len(records)))
	}
}

// CurrentVersion implements adapters.Backend.
func (b *Backend) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	start := time.Now()
	v, err := b.backend.CurrentVersion(ctx, aggregateID)
	b.observe(OperationCurrentVersion, start, err)
	return v, err
}

// UpsertSnapshot implements adapters.Backend.
func (b *Backend) UpsertSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	start := time.Now()
	err := b.backend.UpsertSnapshot(ctx, snapshot)
	b.observe(OperationSaveSnapshot, start, err)
	return err
}

// LoadSnapshot implements adapters.Backend.
func (b *Backend) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	start := time.Now()
	snap, err := b.backend.LoadSnapshot(ctx, aggregateID)
	b.observe(OperationLoadSnapshot, start, err)
	return snap, err
}

// Initialize implements adapters.Backend.
func (b *Backend) Initialize(ctx context.Context) error {
	return b.backend.Initialize(ctx)
}

// Close implements adapters.Backend.
func (b *Backend) Close() error {
	return b.backend.Close()
}

// Ping forwards to the wrapped backend when it supports health checks.
func (b *Backend) Ping(ctx context.Context) error {
	if hc, ok := b.backend.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Projection wraps a stoat.Projection and records every handled event.
type Projection struct {
	projection stoat.Projection
	metrics    *Metrics
}

var (
	_ stoat.Projection = (*Projection)(nil)
	_ stoat.Resettable = (*Projection)(nil)
)

// WrapProjection instruments a projection for StartProjection or RebuildProjection.
func (m *Metrics) WrapProjection(p stoat.Projection) *Projection {
	return &Projection{projection: p, metrics: m}
}

// Name implements stoat.Projection.
func (p *Projection) Name() string {
	return p.projection.Name()
}

// EventTypes implements stoat.Projection.
func (p *Projection) EventTypes() []string {
	return p.projection.EventTypes()
}

// Reset forwards to the wrapped projection when it is resettable.
func (p *Projection) Reset() {
	if r, ok := p.projection.(stoat.Resettable); ok {
		r.Reset()
	}
}

// Handle implements stoat.Projection.
func (p *Projection) Handle(ctx context.Context, event stoat.Event) error {
	m := p.metrics
	name := p.projection.Name()

	start := time.Now()
	err := p.projection.Handle(ctx, event)
	m.projectionDuration.WithLabelValues(m.serviceName, name).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.RecordError("projection_error")
	}
	m.projectionEventsTotal.WithLabelValues(m.serviceName, name, event.Type, status).Inc()
	m.projectionPosition.WithLabelValues(m.serviceName, name).Set(float64(event.GlobalPosition))

	return err
}
