package stoat

import (
	"context"
	"sort"
	"time"
)

// RebuildProgress tracks the progress of a projection rebuild.
type RebuildProgress struct {
	// ProjectionName is the name of the projection being rebuilt.
	ProjectionName string

	// TotalEvents is the number of events loaded for the rebuild.
	TotalEvents int

	// ProcessedEvents is the number of events handled so far.
	ProcessedEvents int

	// CurrentPosition is the global position of the last handled event.
	CurrentPosition uint64

	// Duration is the elapsed time.
	Duration time.Duration

	// Completed indicates if the rebuild is complete.
	Completed bool
}

// ProgressCallback is called during a rebuild with progress updates.
type ProgressCallback func(progress RebuildProgress)

type rebuildConfig struct {
	logger        Logger
	progress      ProgressCallback
	progressEvery int
	skipReset     bool
}

// RebuildOption configures RebuildProjection.
type RebuildOption func(*rebuildConfig)

// WithRebuildLogger sets the logger used during the rebuild.
func WithRebuildLogger(l Logger) RebuildOption {
	return func(c *rebuildConfig) {
		c.logger = l
	}
}

// WithRebuildProgress reports progress every n events and once on completion.
func WithRebuildProgress(every int, fn ProgressCallback) RebuildOption {
	return func(c *rebuildConfig) {
		c.progress = fn
		c.progressEvery = every
	}
}

// WithoutReset keeps the projection's current state instead of calling Reset.
func WithoutReset() RebuildOption {
	return func(c *rebuildConfig) {
		c.skipReset = true
	}
}

// RebuildProjection replays the complete history of the projection's event
// types through Handle, oldest first by global position. Resettable
// projections are reset first so a rebuild is idempotent.
//
// A live projection should be stopped or rebuilt into a fresh instance,
// otherwise events appended during the rebuild may be handled twice.
func RebuildProjection(ctx context.Context, store *EventStore, p Projection, opts ...RebuildOption) (RebuildProgress, error) {
	cfg := rebuildConfig{logger: store.logger}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	progress := RebuildProgress{ProjectionName: p.Name()}

	cfg.logger.Info("Starting projection rebuild", "projection", p.Name())

	events, err := loadProjectionHistory(ctx, store, p.EventTypes())
	if err != nil {
		return progress, err
	}
	progress.TotalEvents = len(events)

	if r, ok := p.(Resettable); ok && !cfg.skipReset {
		r.Reset()
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return progress, err
		}
		if err := p.Handle(ctx, e); err != nil {
			return progress, &ProjectionError{Projection: p.Name(), EventID: e.ID, EventType: e.Type, Cause: err}
		}

		progress.ProcessedEvents++
		progress.CurrentPosition = e.GlobalPosition
		if cfg.progress != nil && cfg.progressEvery > 0 && progress.ProcessedEvents%cfg.progressEvery == 0 {
			progress.Duration = time.Since(start)
			cfg.progress(progress)
		}
	}

	progress.Duration = time.Since(start)
	progress.Completed = true
	if cfg.progress != nil {
		cfg.progress(progress)
	}

	cfg.logger.Info("Projection rebuild completed",
		"projection", p.Name(),
		"events", progress.ProcessedEvents,
		"duration", progress.Duration,
	)
	return progress, nil
}

// loadProjectionHistory loads every event of the given types and merges
// them into append order.
func loadProjectionHistory(ctx context.Context, store *EventStore, eventTypes []string) ([]Event, error) {
	seen := make(map[string]bool, len(eventTypes))
	var events []Event
	for _, eventType := range eventTypes {
		if seen[eventType] {
			continue
		}
		seen[eventType] = true

		batch, err := store.GetEventsByType(ctx, eventType, 0)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.GlobalPosition != b.GlobalPosition {
			return a.GlobalPosition < b.GlobalPosition
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.AggregateID != b.AggregateID {
			return a.AggregateID < b.AggregateID
		}
		return a.Version < b.Version
	})
	return events, nil
}
