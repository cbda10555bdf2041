// Package commands provides the CLI command implementations for stoat.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// NewRootCommand creates the root command for the stoat CLI
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "stoat",
		Short: "Inspect and operate a stoat event store",
		Long: styles.Title.Render("stoat") + `

Append, read and replay the events of a stoat event store. The backend,
snapshot cache and fan-out publishers come from stoat.yaml and STOAT_*
environment variables.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("stoat init") + `                               Create the schema
  ` + styles.Code.Render("stoat append user-1 UserCreated --data '{}'") + `  Append an event
  ` + styles.Code.Render("stoat events user-1") + `                      Read an aggregate
  ` + styles.Code.Render("stoat replay user-1") + `                      Fold it into a view
  ` + styles.Code.Render("stoat health") + `                             Check connectivity`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				styles.DisableColors()
			}
			output, _ := cmd.Flags().GetString("output")
			if output != OutputTable && output != OutputJSON {
				return fmt.Errorf("unknown output format %q (want %s or %s)", output, OutputTable, OutputJSON)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to stoat.yaml (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().StringP("output", "o", OutputTable, "Output format: table or json")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewAppendCommand())
	rootCmd.AddCommand(NewEventsCommand())
	rootCmd.AddCommand(NewByTypeCommand())
	rootCmd.AddCommand(NewSnapshotCommand())
	rootCmd.AddCommand(NewReplayCommand())
	rootCmd.AddCommand(NewHealthCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}

func outputFormat(cmd *cobra.Command) string {
	output, _ := cmd.Flags().GetString("output")
	return output
}
