package cmd

import (
	"blafast-backend/database"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			database.Connect()
			if err := database.AutoMigrate(); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}
