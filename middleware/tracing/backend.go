package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Backend wraps an adapters.Backend with one client span per call.
type Backend struct {
	backend adapters.Backend
	tracer  *Tracer
}

var (
	_ adapters.Backend       = (*Backend)(nil)
	_ adapters.HealthChecker = (*Backend)(nil)
)

// WrapBackend traces a backend.
func WrapBackend(backend adapters.Backend, tracer *Tracer) *Backend {
	return &Backend{backend: backend, tracer: tracer}
}

func (b *Backend) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := b.tracer.StartSpan(ctx, "backend."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("stoat.service", b.tracer.serviceName))
	span.SetAttributes(attrs...)
	return ctx, span
}

// InsertEvents implements adapters.Backend.
func (b *Backend) InsertEvents(ctx context.Context, records []adapters.EventRecord) ([]adapters.EventRecord, error) {
	types := make([]string, len(records))
	for i, r := range records {
		types[i] = r.Type
	}
	attrs := []attribute.KeyValue{
		attribute.Int("stoat.events.count", len(records)),
		attribute.StringSlice("stoat.events.types", types),
	}
	if len(records) > 0 {
		attrs = append(attrs, attribute.String("stoat.aggregate.id", records[0].AggregateID))
	}

	ctx, span := b.start(ctx, "insert_events", attrs...)
	defer span.End()

	stored, err := b.backend.InsertEvents(ctx, records)
	finish(span, err)
	if err == nil && len(stored) > 0 {
		last := stored[len(stored)-1]
		span.SetAttributes(
			attribute.Int64("stoat.stored.version", last.Version),
			attribute.Int64("stoat.stored.global_position", int64(last.GlobalPosition)),
		)
	}
	return stored, err
}

// LoadEvents implements adapters.Backend.
func (b *Backend) LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.EventRecord, error) {
	ctx, span := b.start(ctx, "load_events",
		attribute.String("stoat.aggregate.id", aggregateID),
		attribute.Int64("stoat.from_version", fromVersion),
	)
	defer span.End()

	records, err := b.backend.LoadEvents(ctx, aggregateID, fromVersion)
	finish(span, err)
	span.SetAttributes(attribute.Int("stoat.events.loaded", len(records)))
	return records, err
}

// LoadEventsByType implements adapters.Backend.
func (b *Backend) LoadEventsByType(ctx context.Context, eventType string, limit int) ([]adapters.EventRecord, error) {
	ctx, span := b.start(ctx, "load_events_by_type",
		attribute.String("stoat.event.type", eventType),
		attribute.Int("stoat.limit", limit),
	)
	defer span.End()

	records, err := b.backend.LoadEventsByType(ctx, eventType, limit)
	finish(span, err)
	span.SetAttributes(attribute.Int("stoat.events.loaded", len(records)))
	return records, err
}

// CurrentVersion implements adapters.Backend.
func (b *Backend) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	ctx, span := b.start(ctx, "current_version", attribute.String("stoat.aggregate.id", aggregateID))
	defer span.End()

	v, err := b.backend.CurrentVersion(ctx, aggregateID)
	finish(span, err)
	span.SetAttributes(attribute.Int64("stoat.aggregate.version", v))
	return v, err
}

// UpsertSnapshot implements adapters.Backend.
func (b *Backend) UpsertSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	ctx, span := b.start(ctx, "upsert_snapshot",
		attribute.String("stoat.aggregate.id", snapshot.AggregateID),
		attribute.Int64("stoat.snapshot.version", snapshot.Version),
	)
	defer span.End()

	err := b.backend.UpsertSnapshot(ctx, snapshot)
	finish(span, err)
	return err
}

// LoadSnapshot implements adapters.Backend.
func (b *Backend) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	ctx, span := b.start(ctx, "load_snapshot", attribute.String("stoat.aggregate.id", aggregateID))
	defer span.End()

	snap, err := b.backend.LoadSnapshot(ctx, aggregateID)
	finish(span, err)
	span.SetAttributes(attribute.Bool("stoat.snapshot.found", snap != nil))
	return snap, err
}

// Initialize implements adapters.Backend.
func (b *Backend) Initialize(ctx context.Context) error {
	ctx, span := b.start(ctx, "initialize")
	defer span.End()

	err := b.backend.Initialize(ctx)
	finish(span, err)
	return err
}

// Close implements adapters.Backend.
func (b *Backend) Close() error {
	return b.backend.Close()
}

// Ping forwards to the wrapped backend when it supports health checks.
func (b *Backend) Ping(ctx context.Context) error {
	hc, ok := b.backend.(adapters.HealthChecker)
	if !ok {
		return nil
	}
	ctx, span := b.start(ctx, "ping")
	defer span.End()

	err := hc.Ping(ctx)
	finish(span, err)
	return err
}
