package commands

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
)

// CheckStatus represents the status of a health check
type CheckStatus string

const (
	StatusOK      CheckStatus = "ok"
	StatusWarning CheckStatus = "warning"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
)

// CheckResult represents the result of a single health check
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
}

// Checks runs every health check against an open runtime.
func (r *Runtime) Checks(ctx context.Context) []CheckResult {
	cfg := r.Config
	results := []CheckResult{
		{Name: "Go runtime", Status: StatusOK, Message: runtime.Version()},
	}

	backend := CheckResult{Name: "Backend", Message: cfg.Backend.Driver}
	if hc, ok := r.Store.Backend().(adapters.HealthChecker); ok {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := hc.Ping(pingCtx)
		cancel()
		if err != nil {
			backend.Status, backend.Message = StatusFailed, err.Error()
		} else {
			backend.Status = StatusOK
		}
	} else {
		backend.Status, backend.Message = StatusWarning, cfg.Backend.Driver+" does not support health checks"
	}
	results = append(results, backend)

	cache := CheckResult{Name: "Snapshot cache", Status: StatusSkipped, Message: "process local"}
	if r.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := r.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			cache.Status, cache.Message = StatusFailed, err.Error()
		} else {
			cache.Status, cache.Message = StatusOK, "redis "+cfg.Redis.Addr
		}
	}
	results = append(results, cache)

	fanout := CheckResult{Name: "Fan-out", Status: StatusSkipped, Message: "no publishers"}
	if len(r.publishers) > 0 {
		fanout.Status, fanout.Message = StatusOK, fmt.Sprintf("%v (not probed)", r.publishers)
	}
	results = append(results, fanout)

	tracing := CheckResult{Name: "Tracing", Status: StatusSkipped, Message: "disabled"}
	if cfg.Tracing.Enabled {
		tracing.Status, tracing.Message = StatusOK, "stdout exporter"
	}
	return append(results, tracing)
}

// NewHealthCommand creates the health command
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "health",
		Short:   "Check backend and cache connectivity",
		Aliases: []string{"diagnose"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				results := rt.Checks(ctx)
				failed := 0
				for _, r := range results {
					if r.Status == StatusFailed {
						failed++
					}
				}

				out := cmd.OutOrStdout()
				if outputFormat(cmd) == OutputJSON {
					if err := writeJSON(out, results); err != nil {
						return err
					}
				} else {
					rows := make([][]string, len(results))
					for i, r := range results {
						rows[i] = []string{r.Name, statusLabel(r.Status), r.Message}
					}
					fmt.Fprintln(out, styles.Title.Render(styles.IconHealth+" Health"))
					fmt.Fprintln(out, styles.Table([]string{"Check", "Status", "Detail"}, rows))
				}

				if failed > 0 {
					return fmt.Errorf("%d health check(s) failed", failed)
				}
				return nil
			})
		},
	}
}

func statusLabel(s CheckStatus) string {
	switch s {
	case StatusOK:
		return styles.SuccessStyle.Render(styles.IconSuccess + " ok")
	case StatusWarning:
		return styles.WarningStyle.Render(styles.IconWarning + " warning")
	case StatusFailed:
		return styles.ErrorStyle.Render(styles.IconError + " failed")
	default:
		return styles.Muted.Render(styles.IconDot + " skipped")
	}
}
