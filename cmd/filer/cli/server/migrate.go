package server

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/filer/pkg/db/migrations"
	"github.com/mwantia/filer/pkg/db/store"
	"github.com/mwantia/filer/pkg/log"
	"github.com/spf13/cobra"

	config "github.com/mwantia/filer/internal/config/server"
)

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage metadata index schema migrations",
		Long: `Apply, inspect or roll back schema migrations of the metadata index.

The agent applies pending migrations on startup, these commands are
meant for maintenance.`,
	}

	cmd.AddCommand(newMigrateUpCommand())
	cmd.AddCommand(newMigrateStatusCommand())
	cmd.AddCommand(newMigrateRollbackCommand())

	return cmd
}

func newMigrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *migrations.Migrator) error {
				applied, err := m.Migrate(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Metadata index is up to date, applied %d migration(s)\n", applied)
				return nil
			})
		},
	}
}

func newMigrateStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *migrations.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}

				for _, status := range statuses {
					state := "pending"
					if status.Applied {
						state = "applied " + status.AppliedAt.Local().Format(time.DateTime)
					}
					fmt.Printf("%3d  %-28s  %s\n", status.Version, state, status.Description)
				}
				return nil
			})
		},
	}
}

func newMigrateRollbackCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("rolling back may drop indexed metadata, rerun with --confirm")
			}

			return withMigrator(cmd.Context(), func(ctx context.Context, m *migrations.Migrator) error {
				migration, err := m.Rollback(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Rolled back migration %d (%s)\n", migration.Version, migration.Description)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&confirm, "confirm", "c", false, "Confirms the rollback")

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *migrations.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}

	var busyTimeout time.Duration
	if cfg.Metadata.SQLite.BusyTimeout != "" {
		busyTimeout, _ = time.ParseDuration(cfg.Metadata.SQLite.BusyTimeout)
	}

	s, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:        cfg.Metadata.SQLite.Path,
		BusyTimeout: busyTimeout,
	}, log.NewLoggerService("migrate", cfg.Log))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Connect(ctx); err != nil {
		return err
	}

	return fn(ctx, migrations.NewMigrator(s.DB()))
}
