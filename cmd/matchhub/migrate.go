package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/matchhub/internal/config"
	"github.com/cory-johannsen/matchhub/internal/storage/postgres"
)

func migrateCmd(configPath *string) *cobra.Command {
	var (
		direction string
		steps     int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert the database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if steps < 0 {
				return fmt.Errorf("--steps must not be negative, got %d", steps)
			}

			var status postgres.MigrationStatus
			switch direction {
			case "up":
				status, err = postgres.Migrate(cfg.Database.DSN(), steps)
			case "down":
				if steps > 0 {
					status, err = postgres.Migrate(cfg.Database.DSN(), -steps)
				} else {
					status, err = postgres.MigrateDown(cfg.Database.DSN())
				}
			default:
				return fmt.Errorf("invalid direction %q: must be 'up' or 'down'", direction)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			elapsed := time.Since(start)
			if !status.Changed {
				fmt.Fprintf(out, "no changes (version=%d dirty=%v) [%s]\n", status.Version, status.Dirty, elapsed)
				return nil
			}
			fmt.Fprintf(out, "migrated %s to version=%d dirty=%v [%s]\n", direction, status.Version, status.Dirty, elapsed)
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "migration direction: up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
