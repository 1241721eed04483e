package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/millatvt/millat-backend/internal/config"
	"github.com/millatvt/millat-backend/internal/database"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations (SQL on postgres, model sync on sqlite)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(opts, func(cfg *config.Config, db *gorm.DB) error {
				if cfg.DatabaseDriver != "postgres" {
					if err := database.AutoMigrate(db); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "schema synced")
					return nil
				}
				version, err := database.MigrateUp(db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return withDB(opts, func(_ *config.Config, db *gorm.DB) error {
				if err := database.MigrateDown(db, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d step(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)
	return cmd
}

func withDB(opts *rootOptions, fn func(*config.Config, *gorm.DB) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()
	return fn(cfg, db)
}
