package cmd

import (
	"context"
	"time"

	"blafast-backend/cleanup"
	"blafast-backend/config"
	"blafast-backend/database"
	"blafast-backend/store"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func cleanupCmd() *cobra.Command {
	var retentionDays int
	var command = &cobra.Command{
		Use:   "cleanup",
		Short: "Run one expiry cleanup sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if retentionDays <= 0 {
				retentionDays = cfg.Deferred.CleanupRetentionDays
			}

			database.Connect()

			sweeper := &cleanup.Sweeper{
				Store:     store.NewGorm(database.DB),
				Retention: time.Duration(retentionDays) * 24 * time.Hour,
			}
			deleted, err := sweeper.Run(context.Background())
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", deleted).Int("retention_days", retentionDays).Msg("cleanup done")
			return nil
		},
	}

	command.Flags().IntVar(&retentionDays, "retention-days", 0, "Retention window in days (default from config)")
	return command
}
