package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/philosquare/zju-tem/internal/config"
	"github.com/philosquare/zju-tem/internal/jobs"
	"github.com/philosquare/zju-tem/internal/portal"
	"github.com/philosquare/zju-tem/internal/reserve"
	"github.com/philosquare/zju-tem/internal/scheduler"
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the job-firing loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig, config.Profile(flagProfile))
			if err != nil {
				return err
			}
			log := newLogger()
			log.Info().Str("profile", string(cfg.Profile)).Str("store", cfg.Scheduler.StorePath).Msg("starting temsched")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			store, err := jobs.Open(cfg.Scheduler.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			client := portal.New(portal.Config{
				LoginURL:      cfg.Portal.LoginURL,
				ReserveURL:    cfg.Portal.ReserveURL,
				LoginAttempts: cfg.Portal.LoginAttempts,
				Timeout:       cfg.Portal.Timeout.Std(),
			}, log)
			engine := reserve.NewEngine(reserve.NewSessionFactory(client), cfg.Retry.Attempts, cfg.Retry.Interval.Std(), log)
			sched := scheduler.New(store, engine, scheduler.Config{
				AdminUsername: cfg.Admin.Username,
				PollInterval:  cfg.Scheduler.PollInterval.Std(),
			}, log)

			err = sched.Run(ctx)
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("temsched stopped")
				return nil
			}
			return err
		},
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}
