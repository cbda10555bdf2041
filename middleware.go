package stoat

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// MiddlewareFunc is the function signature for command middleware.
type MiddlewareFunc func(ctx context.Context, cmd Command) (CommandResult, error)

// Middleware wraps a handler function with additional functionality.
type Middleware func(next MiddlewareFunc) MiddlewareFunc

// chain composes middleware so the first one added runs outermost.
func chain(final MiddlewareFunc, middleware []Middleware) MiddlewareFunc {
	h := final
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// RecoveryMiddleware recovers from panics in executors and aggregates and
// returns them as *PanicError.
func RecoveryMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (result CommandResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					cmdType := ""
					if cmd != nil {
						cmdType = cmd.CommandType()
					}
					panicErr := &PanicError{CommandType: cmdType, Value: r, Stack: string(debug.Stack())}
					result = NewErrorResult(panicErr)
					err = panicErr
				}
			}()
			return next(ctx, cmd)
		}
	}
}

// LoggingMiddleware logs command execution.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Middleware returns the middleware function.
func (m *LoggingMiddleware) Middleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			start := time.Now()

			m.logger.Debug("Handling command",
				"type", cmd.CommandType(),
				"aggregateId", cmd.AggregateID(),
			)

			result, err := next(ctx, cmd)
			duration := time.Since(start)

			if err != nil {
				m.logger.Error("Command failed",
					"type", cmd.CommandType(),
					"aggregateId", cmd.AggregateID(),
					"duration", duration,
					"error", err,
				)
			} else {
				m.logger.Info("Command completed",
					"type", cmd.CommandType(),
					"aggregateId", result.AggregateID,
					"version", result.Version,
					"events", result.EventCount,
					"duration", duration,
				)
			}

			return result, err
		}
	}
}

// TimeoutMiddleware bounds command execution, including backend calls.
// A command that times out has an unknown outcome: its events may have been
// written before the deadline hit. Reload the aggregate before retrying.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, cmd)
		}
	}
}

type correlationIDKey struct{}

// CorrelationIDFromContext returns the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID returns a context carrying the correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDMiddleware makes sure every command runs with a correlation ID.
// The ID comes from the context, then from the command's CommandBase, then
// from the generator. The command handler stamps it on produced events.
func CorrelationIDMiddleware(generator func() string) Middleware {
	if generator == nil {
		generator = uuid.NewString
	}

	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			if CorrelationIDFromContext(ctx) != "" {
				return next(ctx, cmd)
			}

			var correlationID string
			if c, ok := cmd.(metadataCarrier); ok {
				correlationID = c.EventMetadata().CorrelationID
			}
			if correlationID == "" {
				correlationID = generator()
			}

			return next(WithCorrelationID(ctx, correlationID), cmd)
		}
	}
}

// ConditionalMiddleware applies middleware only if the condition is true.
func ConditionalMiddleware(condition func(Command) bool, middleware Middleware) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		wrapped := middleware(next)
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			if condition(cmd) {
				return wrapped(ctx, cmd)
			}
			return next(ctx, cmd)
		}
	}
}

// CommandTypeMiddleware applies middleware only for specific command types.
func CommandTypeMiddleware(types []string, middleware Middleware) Middleware {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	return ConditionalMiddleware(func(cmd Command) bool {
		return typeSet[cmd.CommandType()]
	}, middleware)
}
