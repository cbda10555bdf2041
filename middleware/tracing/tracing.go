// Package tracing provides OpenTelemetry spans for commands, backend calls and projections.
//
// Basic usage:
//
//	tp, _ := tracing.NewStdoutTracerProvider(os.Stderr)
//	tracer := tracing.NewTracer(tracing.WithTracerProvider(tp))
//
//	store := stoat.New(tracing.WrapBackend(backend, tracer))
//	handler := stoat.NewCommandHandler(store, registry, executor,
//	    stoat.WithMiddleware(tracing.CommandMiddleware(tracer)),
//	)
//
// Command spans carry the command type, aggregate, correlation ID and the
// resulting version. Backend spans are children of the command span when
// the handler's context is passed through.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-stoat"
)

const (
	// TracerName is the instrumentation scope of every span.
	TracerName = "github.com/AshkanYarmoradi/go-stoat"

	// DefaultServiceName is the default value of the stoat.service attribute.
	DefaultServiceName = "stoat"
)

// Tracer wraps an OpenTelemetry tracer.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a Tracer backed by the global TracerProvider unless overridden.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// NewStdoutTracerProvider returns a provider that pretty-prints finished spans to w.
// Callers own the provider and should Shutdown it to flush.
func NewStdoutTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stoat/tracing: create stdout exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), nil
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// CommandMiddleware creates command handler middleware that traces each command.
func CommandMiddleware(tracer *Tracer) stoat.Middleware {
	return func(next stoat.MiddlewareFunc) stoat.MiddlewareFunc {
		return func(ctx context.Context, cmd stoat.Command) (stoat.CommandResult, error) {
			ctx, span := tracer.StartSpan(ctx, "command."+cmd.CommandType(),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String("stoat.service", tracer.serviceName),
				attribute.String("stoat.command.type", cmd.CommandType()),
				attribute.String("stoat.aggregate.id", cmd.AggregateID()),
				attribute.String("stoat.aggregate.type", cmd.AggregateType()),
			)
			if id := stoat.CorrelationIDFromContext(ctx); id != "" {
				span.SetAttributes(attribute.String("stoat.correlation_id", id))
			}

			result, err := next(ctx, cmd)

			if err == nil && result.IsError() {
				err = result.Error
			}
			finish(span, err)
			if err == nil {
				span.SetAttributes(
					attribute.Int64("stoat.result.version", result.Version),
					attribute.Int("stoat.result.event_count", result.EventCount),
				)
			}
			return result, err
		}
	}
}

// Projection wraps a stoat.Projection with one span per handled event.
type Projection struct {
	projection stoat.Projection
	tracer     *Tracer
}

var (
	_ stoat.Projection = (*Projection)(nil)
	_ stoat.Resettable = (*Projection)(nil)
)

// WrapProjection traces a projection.
func WrapProjection(p stoat.Projection, tracer *Tracer) *Projection {
	return &Projection{projection: p, tracer: tracer}
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
	ctx, span := p.tracer.StartSpan(ctx, fmt.Sprintf("projection.%s.handle", p.projection.Name()),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("stoat.service", p.tracer.serviceName),
		attribute.String("stoat.projection.name", p.projection.Name()),
		attribute.String("stoat.event.id", event.ID),
		attribute.String("stoat.event.type", event.Type),
		attribute.String("stoat.aggregate.id", event.AggregateID),
		attribute.Int64("stoat.event.version", event.Version),
		attribute.Int64("stoat.event.global_position", int64(event.GlobalPosition)),
	)

	err := p.projection.Handle(ctx, event)
	finish(span, err)
	return err
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	trace.SpanFromContext(ctx).AddEvent(name, opts...)
}

// SetError records err on the current span.
func SetError(ctx context.Context, err error) {
	finish(trace.SpanFromContext(ctx), err)
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
