package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat/cli/config"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		writeConfig bool
		force       bool
		driver      string
		dsn         string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the event store schema",
		Long: `Create the tables and indexes of the configured backend. Safe to run repeatedly.

Examples:
  stoat init                                    # Use the nearest stoat.yaml
  stoat init --write-config --driver sqlite     # Write stoat.yaml here first
  STOAT_BACKEND=postgres STOAT_DSN=$DATABASE_URL stoat init`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if writeConfig {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				if config.Exists(cwd) && !force {
					return fmt.Errorf("%s already exists (use --force to overwrite)", config.ConfigFileName)
				}

				cfg := config.DefaultConfig()
				if cmd.Flags().Changed("driver") {
					cfg.Backend.Driver = driver
				}
				if cmd.Flags().Changed("dsn") {
					cfg.Backend.DSN = dsn
				}
				if problems := cfg.Validate(); len(problems) > 0 {
					return fmt.Errorf("invalid configuration: %v", problems)
				}

				path := filepath.Join(cwd, config.ConfigFileName)
				if err := os.WriteFile(path, []byte(config.GenerateYAML(cfg)), 0644); err != nil {
					return fmt.Errorf("write %s: %w", config.ConfigFileName, err)
				}
				fmt.Fprintln(out, styles.FormatSuccess("Wrote "+path))
			}

			return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				if err := rt.Store.Initialize(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("%s Schema ready on %s backend", styles.IconDatabase, rt.Config.Backend.Driver)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "Write "+config.ConfigFileName+" in the working directory first")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing "+config.ConfigFileName)
	cmd.Flags().StringVar(&driver, "driver", config.DriverSQLite, "Backend driver for --write-config: memory, sqlite or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Backend DSN for --write-config")

	return cmd
}
