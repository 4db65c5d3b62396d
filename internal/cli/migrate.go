package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"paytrack/internal/storage"
)

// MigrationStatus is the json output of the migrate commands.
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

// NewMigrateCommand creates the migrate command. Without a subcommand it
// applies every pending migration.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, rootOpts, storage.RunMigrations)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			return runMigration(cmd, rootOpts, func(path string) error {
				return storage.RollbackMigrations(path, steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, rootOpts, nil)
		},
	}

	cmd.AddCommand(down, version)
	return cmd
}

// runMigration applies apply (when set) to the configured SQLite database
// and prints the resulting version.
func runMigration(cmd *cobra.Command, rootOpts *RootOptions, apply func(dbPath string) error) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if cfg.DataBackend != "sqlite" {
		return fmt.Errorf("migrations need DATA_BACKEND=sqlite, got %q", cfg.DataBackend)
	}

	if apply != nil {
		if err := apply(cfg.SQLiteDBPath); err != nil {
			return err
		}
	}

	version, dirty, err := storage.MigrationVersion(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}

	status := MigrationStatus{Version: version, Dirty: dirty}
	if rootOpts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), status)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d", status.Version)
	if status.Dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
