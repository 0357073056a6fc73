package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blafast-backend/cleanup"
	"blafast-backend/config"
	"blafast-backend/controllers"
	"blafast-backend/database"
	"blafast-backend/deferral"
	"blafast-backend/queue"
	"blafast-backend/routes"
	"blafast-backend/store"
	"blafast-backend/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var (
		consumerName string
		baseBackoff  time.Duration
		maxBackoff   time.Duration
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start deferred-request worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.Load()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			// The replay target is the same application the API serves; the
			// worker builds it without listening on a port.
			app := routes.NewApp(routes.Deps{
				Members:    database.Memberships{},
				Rules:      rules,
				Dispatcher: &deferral.Dispatcher{Store: st, Queue: q, Cfg: cfg.Deferred},
				Deferred:   &controllers.DeferredController{Store: st},
				RuleCtl:    &controllers.RuleController{DB: database.DB, Rules: rules},
				Reports:    &controllers.ReportController{Store: st},
			})

			// Delayed-retry scheduler
			sched := queue.NewScheduler(q, time.Second)
			go func() {
				if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
					log.Ctx(ctx).Error().Err(err).Msg("scheduler stopped with error")
				}
			}()

			// Hourly cleanup sweep alongside consumption
			sweeper := &cleanup.Sweeper{
				Store:     st,
				Retention: time.Duration(cfg.Deferred.CleanupRetentionDays) * 24 * time.Hour,
			}
			go sweeper.RunPeriodically(ctx, time.Hour)

			w := &worker.Worker{
				Store:       st,
				Queue:       q,
				Executor:    &worker.FiberExecutor{App: app},
				Notifier:    worker.LogNotifier{},
				Consumer:    consumerName,
				BaseBackoff: baseBackoff,
				MaxBackoff:  maxBackoff,
			}
			log.Info().Str("consumer", consumerName).Msg("worker starting")
			return w.Run(ctx)
		},
	}

	command.Flags().StringVar(&consumerName, "consumer", "worker-1", "Worker consumer name")
	command.Flags().DurationVar(&baseBackoff, "base-backoff", 500*time.Millisecond, "Base retry backoff duration")
	command.Flags().DurationVar(&maxBackoff, "max-backoff", 30*time.Second, "Max retry backoff duration")

	return command
}
