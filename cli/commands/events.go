package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
)

// maxDataWidth truncates payloads in table output.
const maxDataWidth = 48

// eventView is the JSON shape of one event in CLI output.
type eventView struct {
	ID             string          `json:"id"`
	AggregateID    string          `json:"aggregateId"`
	AggregateType  string          `json:"aggregateType,omitempty"`
	Type           string          `json:"type"`
	Version        int64           `json:"version"`
	GlobalPosition uint64          `json:"globalPosition"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data,omitempty"`
	RawData        string          `json:"rawData,omitempty"`
	Metadata       *stoat.Metadata `json:"metadata,omitempty"`
}

func newEventView(e stoat.Event) eventView {
	v := eventView{
		ID:             e.ID,
		AggregateID:    e.AggregateID,
		AggregateType:  e.AggregateType,
		Type:           e.Type,
		Version:        e.Version,
		GlobalPosition: e.GlobalPosition,
		Timestamp:      e.Timestamp,
	}
	if json.Valid(e.Data) {
		v.Data = json.RawMessage(e.Data)
	} else if len(e.Data) > 0 {
		v.RawData = fmt.Sprintf("%x", e.Data)
	}
	if !e.Metadata.IsEmpty() {
		m := e.Metadata
		v.Metadata = &m
	}
	return v
}

// NewAppendCommand creates the append command
func NewAppendCommand() *cobra.Command {
	var (
		data          string
		aggregateType string
		expectVersion int64
		correlationID string
		causationID   string
		actorID       string
	)

	cmd := &cobra.Command{
		Use:   "append <aggregate-id> <event-type>",
		Short: "Append an event to an aggregate",
		Long: `Append one event. The store assigns the ID, the next version and the timestamp.

Examples:
  stoat append user-1 UserCreated --aggregate-type User --data '{"email":"a@b.c"}'
  stoat append user-1 CreditsAdded --data - < payload.json
  stoat append user-1 CreditsAdded --data '{"amount":5}' --expect-version 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(data)
			if data == "-" {
				read, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				payload = read
			}

			var opts []stoat.AppendOption
			if cmd.Flags().Changed("expect-version") {
				opts = append(opts, stoat.ExpectVersion(expectVersion))
			}

			eventData := stoat.EventData{
				AggregateID:   args[0],
				AggregateType: aggregateType,
				Type:          args[1],
				Data:          payload,
				Metadata: stoat.Metadata{}.
					WithCorrelationID(correlationID).
					WithCausationID(causationID).
					WithActorID(actorID),
			}

			return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				events, err := rt.Store.AppendAll(ctx, []stoat.EventData{eventData}, opts...)
				if err != nil {
					return err
				}
				e := events[0]

				if outputFormat(cmd) == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), newEventView(e))
				}
				fmt.Fprintln(cmd.OutOrStdout(), styles.FormatSuccess(fmt.Sprintf("Appended %s to %s", e.Type, e.AggregateID)))
				fmt.Fprintln(cmd.OutOrStdout(), styles.FormatKeyValue("Version", e.Version))
				fmt.Fprintln(cmd.OutOrStdout(), styles.FormatKeyValue("Global position", e.GlobalPosition))
				fmt.Fprintln(cmd.OutOrStdout(), styles.FormatKeyValue("Event ID", e.ID))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "{}", "Event payload, or - to read it from stdin")
	cmd.Flags().StringVarP(&aggregateType, "aggregate-type", "t", "", "Aggregate type")
	cmd.Flags().Int64Var(&expectVersion, "expect-version", 0, "Fail unless the aggregate is at this version")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation ID metadata")
	cmd.Flags().StringVar(&causationID, "causation-id", "", "Causation ID metadata")
	cmd.Flags().StringVar(&actorID, "actor-id", "", "Actor ID metadata")

	return cmd
}

// NewEventsCommand creates the events command
func NewEventsCommand() *cobra.Command {
	var from int64

	cmd := &cobra.Command{
		Use:   "events <aggregate-id>",
		Short: "List the events of an aggregate in version order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				events, err := rt.Store.GetEvents(ctx, args[0], from)
				if err != nil {
					return err
				}
				return printEvents(cmd, fmt.Sprintf("Events of %s", args[0]), events)
			})
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "Only events with at least this version")
	return cmd
}

// NewByTypeCommand creates the by-type command
func NewByTypeCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "by-type <event-type>",
		Short: "List events of one type across aggregates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				events, err := rt.Store.GetEventsByType(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printEvents(cmd, fmt.Sprintf("%s events", args[0]), events)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of events (0 for all)")
	return cmd
}

func printEvents(cmd *cobra.Command, title string, events []stoat.Event) error {
	out := cmd.OutOrStdout()

	if outputFormat(cmd) == OutputJSON {
		views := make([]eventView, len(events))
		for i, e := range events {
			views[i] = newEventView(e)
		}
		return writeJSON(out, views)
	}

	if len(events) == 0 {
		fmt.Fprintln(out, styles.FormatInfo("No events"))
		return nil
	}

	rows := make([][]string, len(events))
	for i, e := range events {
		rows[i] = []string{
			e.AggregateID,
			strconv.FormatInt(e.Version, 10),
			strconv.FormatUint(e.GlobalPosition, 10),
			e.Type,
			e.Timestamp.Format(time.RFC3339),
			truncate(string(e.Data), maxDataWidth),
		}
	}

	fmt.Fprintln(out, styles.Title.Render(styles.IconStream+" "+title))
	fmt.Fprintln(out, styles.Table([]string{"Aggregate", "Version", "Position", "Type", "Timestamp", "Data"}, rows))
	fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("%d event(s)", len(events))))
	return nil
}

func truncate(s string, n int) string {
	if !utf8.ValidString(s) {
		return fmt.Sprintf("<%d bytes>", len(s))
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
