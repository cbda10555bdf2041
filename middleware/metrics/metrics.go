// Package metrics provides Prometheus instrumentation for the event store.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithMetricsServiceName("companion"))
//	m.MustRegister()
//
//	store := stoat.New(m.WrapBackend(backend),
//	    stoat.WithDispatchErrorHandler(m.DispatchErrorHandler()),
//	)
//	handler := stoat.NewCommandHandler(store, registry, executor,
//	    stoat.WithMiddleware(m.CommandMiddleware()),
//	)
//	stoat.StartProjection(store, m.WrapProjection(giftSales))
//
// The metrics collected include:
//   - Command counts, durations and in-flight gauges
//   - Backend operation counts and durations, events appended and loaded
//   - Projection event counts, durations and last global position
//   - Error counts by type
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Metric labels.
const (
	LabelCommandType    = "command_type"
	LabelEventType      = "event_type"
	LabelProjectionName = "projection_name"
	LabelOperation      = "operation"
	LabelStatus         = "status"
	LabelErrorType      = "error_type"
	LabelService        = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Backend operation values.
const (
	OperationInsert         = "insert"
	OperationLoad           = "load"
	OperationLoadByType     = "load_by_type"
	OperationCurrentVersion = "current_version"
	OperationSaveSnapshot   = "save_snapshot"
	OperationLoadSnapshot   = "load_snapshot"
)

// Metrics holds every Prometheus collector.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandsInFlight *prometheus.GaugeVec

	backendOperationsTotal   *prometheus.CounterVec
	backendOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal      *prometheus.CounterVec
	eventsLoadedTotal        *prometheus.CounterVec

	projectionEventsTotal *prometheus.CounterVec
	projectionDuration    *prometheus.HistogramVec
	projectionPosition    *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace. The default is "stoat".
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates the collectors. They are not registered until Register or MustRegister.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "stoat",
		serviceName: "unknown",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initMetrics()
	return m
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) initMetrics() {
	m.commandsTotal = m.counter("commands_total", "Total number of commands handled.", LabelCommandType, LabelStatus)
	m.commandDuration = m.histogram("command_duration_seconds", "Duration of command handling in seconds.", LabelCommandType)
	m.commandsInFlight = m.gauge("commands_in_flight", "Number of commands currently being handled.", LabelCommandType)

	m.backendOperationsTotal = m.counter("backend_operations_total", "Total number of backend operations.", LabelOperation, LabelStatus)
	m.backendOperationDuration = m.histogram("backend_operation_duration_seconds", "Duration of backend operations in seconds.", LabelOperation)
	m.eventsAppendedTotal = m.counter("events_appended_total", "Total number of events written.", LabelEventType)
	m.eventsLoadedTotal = m.counter("events_loaded_total", "Total number of events read.")

	m.projectionEventsTotal = m.counter("projection_events_total", "Total number of events handled by projections.", LabelProjectionName, LabelEventType, LabelStatus)
	m.projectionDuration = m.histogram("projection_duration_seconds", "Duration of projection event handling in seconds.", LabelProjectionName)
	m.projectionPosition = m.gauge("projection_position", "Global position of the last event a projection handled.", LabelProjectionName)

	m.errorsTotal = m.counter("errors_total", "Total number of errors by type.", LabelErrorType)
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.commandsInFlight,
		m.backendOperationsTotal,
		m.backendOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.projectionEventsTotal,
		m.projectionDuration,
		m.projectionPosition,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// CommandMiddleware returns command handler middleware that records command metrics.
func (m *Metrics) CommandMiddleware() stoat.Middleware {
	return func(next stoat.MiddlewareFunc) stoat.MiddlewareFunc {
		return func(ctx context.Context, cmd stoat.Command) (stoat.CommandResult, error) {
			cmdType := cmd.CommandType()

			inFlight := m.commandsInFlight.WithLabelValues(m.serviceName, cmdType)
			inFlight.Inc()
			defer inFlight.Dec()

			start := time.Now()
			result, err := next(ctx, cmd)
			m.commandDuration.WithLabelValues(m.serviceName, cmdType).Observe(time.Since(start).Seconds())

			status := StatusSuccess
			if err != nil || result.IsError() {
				status = StatusError
				if err == nil {
					err = result.Error
				}
				m.RecordError(errorTypeName(err))
			}
			m.commandsTotal.WithLabelValues(m.serviceName, cmdType, status).Inc()

			return result, err
		}
	}
}

// DispatchErrorHandler returns a callback for stoat.WithDispatchErrorHandler
// that counts subscriber and publisher failures.
func (m *Metrics) DispatchErrorHandler() func(stoat.Event, error) {
	return func(_ stoat.Event, err error) {
		m.RecordError(errorTypeName(err))
	}
}

// errorTypeName maps an error to a stable label value.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, stoat.ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, stoat.ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, stoat.ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, stoat.ErrUnknownAggregateType):
		return "unknown_aggregate_type"
	case errors.Is(err, stoat.ErrSnapshotVersion):
		return "snapshot_version"
	case errors.Is(err, stoat.ErrReplayFailed):
		return "replay_failed"
	case errors.Is(err, stoat.ErrHandlerPanicked):
		return "handler_panicked"
	case errors.Is(err, stoat.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, stoat.ErrEventTypeNotRegistered):
		return "event_type_not_registered"
	case errors.Is(err, stoat.ErrNilAggregate):
		return "nil_aggregate"
	case errors.Is(err, stoat.ErrNilCommand):
		return "nil_command"
	case errors.Is(err, stoat.ErrProjectionFailed):
		return "projection_failed"
	case errors.Is(err, stoat.ErrDispatchFailed):
		return "dispatch_failed"
	case errors.Is(err, adapters.ErrClosed):
		return "backend_closed"
	case errors.Is(err, stoat.ErrBackendFailure):
		return "backend_failure"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "domain"
	}
}

// RecordError increments the error counter for a custom error type.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// Getters for tests and custom exporters.

// CommandsTotal returns the commands counter.
func (m *Metrics) CommandsTotal() *prometheus.CounterVec { return m.commandsTotal }

// CommandDuration returns the command duration histogram.
func (m *Metrics) CommandDuration() *prometheus.HistogramVec { return m.commandDuration }

// CommandsInFlight returns the in-flight commands gauge.
func (m *Metrics) CommandsInFlight() *prometheus.GaugeVec { return m.commandsInFlight }

// BackendOperationsTotal returns the backend operations counter.
func (m *Metrics) BackendOperationsTotal() *prometheus.CounterVec { return m.backendOperationsTotal }

// BackendOperationDuration returns the backend duration histogram.
func (m *Metrics) BackendOperationDuration() *prometheus.HistogramVec {
	return m.backendOperationDuration
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec { return m.eventsAppendedTotal }

// EventsLoadedTotal returns the events loaded counter.
func (m *Metrics) EventsLoadedTotal() *prometheus.CounterVec { return m.eventsLoadedTotal }

// ProjectionEventsTotal returns the projection events counter.
func (m *Metrics) ProjectionEventsTotal() *prometheus.CounterVec { return m.projectionEventsTotal }

// ProjectionDuration returns the projection duration histogram.
func (m *Metrics) ProjectionDuration() *prometheus.HistogramVec { return m.projectionDuration }

// ProjectionPosition returns the projection position gauge.
func (m *Metrics) ProjectionPosition() *prometheus.GaugeVec { return m.projectionPosition }

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec { return m.errorsTotal }
