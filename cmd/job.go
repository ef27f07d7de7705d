package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/philosquare/zju-tem/internal/auth"
	"github.com/philosquare/zju-tem/internal/config"
	"github.com/philosquare/zju-tem/internal/instrument"
	"github.com/philosquare/zju-tem/internal/jobs"
	"github.com/philosquare/zju-tem/internal/portal"
	"github.com/philosquare/zju-tem/internal/scheduler"
	"github.com/philosquare/zju-tem/internal/usecases"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Create, inspect, and cancel reservation jobs",
	}
	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobCancelCmd())
	cmd.AddCommand(newJobCancelAllCmd())
	return cmd
}

func newJobCreateCmd() *cobra.Command {
	var (
		username    string
		password    string
		insName     string
		reserveDate string
		startTime   string
		endTime     string
		report      string
		triggerAt   string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Verify a credential and schedule a reservation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig, config.Profile(flagProfile))
			if err != nil {
				return err
			}
			log := newLogger()

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
			sched := scheduler.New(store, nil, scheduler.Config{
				AdminUsername: cfg.Admin.Username,
				PollInterval:  cfg.Scheduler.PollInterval.Std(),
			}, log)
			verifier := auth.New(cfg, auth.NewSessionFactory(client))
			reserver := usecases.NewReserver(instrument.DefaultCatalog(), sched, verifier, cfg, log)

			p := usecases.Params{
				Username:    username,
				Password:    password,
				Instrument:  insName,
				ReserveDate: reserveDate,
				StartTime:   startTime,
				EndTime:     endTime,
				Report:      report,
			}
			if triggerAt != "" {
				p.TriggerAt, err = time.ParseInLocation("2006-01-02 15:04:05", triggerAt, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --trigger-at (want 2006-01-02 15:04:05): %w", err)
				}
			}

			id, trigger, err := reserver.ScheduleReservation(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "scheduled job id=%s trigger=%s\n", id, trigger.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "portal username")
	c.Flags().StringVar(&password, "password", "", "portal password")
	c.Flags().StringVar(&insName, "instrument", "", "instrument name, e.g. OLD_F20")
	c.Flags().StringVar(&reserveDate, "date", "", "experiment date YYYY-MM-DD")
	c.Flags().StringVar(&startTime, "start", "", "experiment start time HH:MM")
	c.Flags().StringVar(&endTime, "end", "", "experiment end time HH:MM")
	c.Flags().StringVar(&report, "report", "", "experiment description")
	c.Flags().StringVar(&triggerAt, "trigger-at", "", "explicit trigger instant (debug profile only)")

	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("instrument")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("start")
	_ = c.MarkFlagRequired("end")
	return c
}

// openScheduler builds a scheduler over the profile's store for one-off
// operator commands. No runner is needed: these commands never fire jobs.
func openScheduler() (*scheduler.Scheduler, *jobs.Store, error) {
	cfg, err := config.Load(flagConfig, config.Profile(flagProfile))
	if err != nil {
		return nil, nil, err
	}
	store, err := jobs.Open(cfg.Scheduler.StorePath)
	if err != nil {
		return nil, nil, err
	}
	sched := scheduler.New(store, nil, scheduler.Config{
		AdminUsername: cfg.Admin.Username,
		PollInterval:  cfg.Scheduler.PollInterval.Std(),
	}, zerolog.Nop())
	return sched, store, nil
}

func newJobListCmd() *cobra.Command {
	var user string
	c := &cobra.Command{
		Use:   "list",
		Short: "List jobs visible to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, store, err := openScheduler()
			if err != nil {
				return err
			}
			defer store.Close()

			js, err := sched.ListJobs(context.Background(), user)
			if err != nil {
				return err
			}
			for _, j := range js {
				fmt.Fprintf(os.Stdout, "id=%s owner=%s state=%s trigger=%s date=%s window=%s-%s\n",
					j.ID, j.Owner, j.State, j.TriggerAt.Format(time.RFC3339),
					j.Request.ReserveDate, j.Request.StartTime, j.Request.EndTime)
			}
			return nil
		},
	}
	c.Flags().StringVar(&user, "user", "", "requesting username (admin sees everything)")
	_ = c.MarkFlagRequired("user")
	return c
}

func newJobCancelCmd() *cobra.Command {
	var user, id string
	c := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel one job",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, store, err := openScheduler()
			if err != nil {
				return err
			}
			defer store.Close()

			ok, err := sched.CancelJob(context.Background(), id, user)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s not found", id)
			}
			fmt.Fprintf(os.Stdout, "cancelled %s\n", id)
			return nil
		},
	}
	c.Flags().StringVar(&id, "id", "", "job id")
	c.Flags().StringVar(&user, "user", "", "requesting username")
	_ = c.MarkFlagRequired("id")
	_ = c.MarkFlagRequired("user")
	return c
}

func newJobCancelAllCmd() *cobra.Command {
	var user string
	c := &cobra.Command{
		Use:   "cancel-all",
		Short: "Cancel every job a user may touch",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, store, err := openScheduler()
			if err != nil {
				return err
			}
			defer store.Close()
			return sched.CancelAllJobs(context.Background(), user)
		},
	}
	c.Flags().StringVar(&user, "user", "", "requesting username")
	_ = c.MarkFlagRequired("user")
	return c
}
