package cmd

import (
	"context"
	"fmt"

	"blafast-backend/config"
	"blafast-backend/controllers"
	"blafast-backend/database"
	"blafast-backend/deferral"
	"blafast-backend/queue"
	"blafast-backend/routes"
	"blafast-backend/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			ctx := context.Background()
			cfg := config.Load()

			database.Connect()
			if err := database.AutoMigrate(); err != nil {
				return err
			}

			st := store.NewGorm(database.DB)
			q := queue.NewRedis(cfg.Redis)
			if err := q.Init(ctx); err != nil {
				return err
			}

			rules := deferral.NewRuleCache(st)
			if err := rules.Start(ctx, cfg.Deferred.RuleRefresh()); err != nil {
				return fmt.Errorf("endpoint rule load failed: %w", err)
			}

			app := routes.NewApp(routes.Deps{
				Members:    database.Memberships{},
				Rules:      rules,
				Dispatcher: &deferral.Dispatcher{Store: st, Queue: q, Cfg: cfg.Deferred},
				Deferred:   &controllers.DeferredController{Store: st},
				RuleCtl:    &controllers.RuleController{DB: database.DB, Rules: rules},
				Reports:    &controllers.ReportController{Store: st},
			})

			log.Info().Int("port", port).Msg("API server starting")
			return app.Listen(fmt.Sprintf(":%d", port))
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
