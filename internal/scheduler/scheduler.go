// Package scheduler persists time-triggered reservation jobs and fires each
// one exactly once at or after its trigger instant.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/philosquare/zju-tem/internal/internaltypes"
	"github.com/philosquare/zju-tem/internal/jobs"
	"github.com/philosquare/zju-tem/internal/portal"
	"github.com/philosquare/zju-tem/internal/reserve"
)

// Runner executes one fired job's retry loop.
type Runner interface {
	Run(ctx context.Context, cred portal.Credential, req portal.Request) reserve.Outcome
}

type Config struct {
	// AdminUsername may list and cancel every user's jobs.
	AdminUsername string
	// PollInterval is how often the firing loop checks the store for due
	// jobs.
	PollInterval time.Duration
}

// Scheduler is owned by the process entry point and shared by reference.
// All durable state lives in the store, so a restarted process picks up
// pending jobs on its first poll tick.
type Scheduler struct {
	store  *jobs.Store
	runner Runner
	cfg    Config
	log    zerolog.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

func New(store *jobs.Store, runner Runner, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Scheduler{
		store:  store,
		runner: runner,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// Schedule persists a job that will fire at triggerAt. Trigger instants in
// the past clamp to now: the window is already open, so the job fires on the
// next poll tick. The credential is assumed to be verified already; the
// scheduler never re-checks it.
func (s *Scheduler) Schedule(ctx context.Context, triggerAt time.Time, cred portal.Credential, req portal.Request, owner string) (string, error) {
	now := s.now()
	if triggerAt.Before(now) {
		triggerAt = now
	}
	j := jobs.Job{
		ID:         uuid.NewString(),
		Owner:      owner,
		TriggerAt:  triggerAt,
		Credential: cred,
		Request:    req,
		State:      jobs.StatePending,
		CreatedAt:  now,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return "", fmt.Errorf("schedule job: %w", err)
	}
	s.log.Info().
		Str("job_id", j.ID).
		Str("owner", owner).
		Time("trigger_at", triggerAt).
		Str("date", req.ReserveDate).
		Msg("job scheduled")
	return j.ID, nil
}

// ListJobs returns all jobs for the admin, otherwise only the requester's
// own, ordered by trigger instant.
func (s *Scheduler) ListJobs(ctx context.Context, requestingUser string) ([]jobs.Job, error) {
	if s.isAdmin(requestingUser) {
		return s.store.List(ctx)
	}
	return s.store.ListByOwner(ctx, requestingUser)
}

// CancelJob removes the job if it exists and the requester owns it or is the
// admin. Missing and not-authorized both report false so callers can't probe
// for other users' job ids. Cancelling never interrupts a retry loop that
// already claimed the job.
func (s *Scheduler) CancelJob(ctx context.Context, jobID, requestingUser string) (bool, error) {
	j, err := s.store.Get(ctx, jobID)
	if errors.Is(err, internaltypes.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.isAdmin(requestingUser) && j.Owner != requestingUser {
		return false, nil
	}
	return s.store.Delete(ctx, jobID)
}

// CancelAllJobs clears every job for the admin, or just the requester's own.
func (s *Scheduler) CancelAllJobs(ctx context.Context, requestingUser string) error {
	js, err := s.ListJobs(ctx, requestingUser)
	if err != nil {
		return err
	}
	for _, j := range js {
		if _, err := s.store.Delete(ctx, j.ID); err != nil {
			return err
		}
	}
	return nil
}

// Run polls for due jobs until ctx is cancelled, firing each on its own
// goroutine so one job's retry loop never delays another's trigger. Returns
// after in-flight runs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.Due(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("due jobs query failed")
		return
	}
	for _, j := range due {
		won, err := s.store.Claim(ctx, j.ID)
		if err != nil {
			s.log.Error().Err(err).Str("job_id", j.ID).Msg("claim failed")
			continue
		}
		if !won {
			continue
		}
		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire(ctx, j)
		}()
	}
}

// fire runs one claimed job to completion and records the outcome on the
// record; the record itself stays listed until someone cancels it.
func (s *Scheduler) fire(ctx context.Context, j jobs.Job) {
	s.log.Info().Str("job_id", j.ID).Str("owner", j.Owner).Msg("firing job")
	out := s.runner.Run(ctx, j.Credential, j.Request)

	state := jobs.StateFailed
	if out.Booked {
		state = jobs.StateBooked
	}
	// record the outcome even when the run ended because of shutdown
	if err := s.store.SetOutcome(context.WithoutCancel(ctx), j.ID, state, out.Message); err != nil {
		s.log.Error().Err(err).Str("job_id", j.ID).Msg("record outcome failed")
	}
	s.log.Info().
		Str("job_id", j.ID).
		Bool("booked", out.Booked).
		Int("attempts", out.Attempts).
		Str("message", out.Message).
		Msg("job finished")
}

func (s *Scheduler) isAdmin(username string) bool {
	return username == s.cfg.AdminUsername
}
