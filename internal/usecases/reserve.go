// Package usecases wires the catalog, calculator, verifier, and scheduler
// into the flows the web layer and CLI call.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/philosquare/zju-tem/internal/config"
	"github.com/philosquare/zju-tem/internal/instrument"
	"github.com/philosquare/zju-tem/internal/portal"
	"github.com/philosquare/zju-tem/internal/reserve"
)

// ErrCredentialRejected means the portal refused the username/password, so no
// job was created. Distinct from transport errors, which are returned as-is.
var ErrCredentialRejected = errors.New("portal rejected username or password")

// JobScheduler is the slice of scheduler.Scheduler this flow needs.
type JobScheduler interface {
	Schedule(ctx context.Context, triggerAt time.Time, cred portal.Credential, req portal.Request, owner string) (string, error)
}

// Verifier checks a credential before anything is persisted.
type Verifier interface {
	Verify(ctx context.Context, username, password string) (bool, error)
}

// Params carries one reservation wish as the web layer hands it over.
type Params struct {
	Username string
	Password string
	// Instrument is a catalog name like "OLD_F20".
	Instrument string
	// ReserveDate is the experiment date, 2006-01-02.
	ReserveDate string
	// StartTime and EndTime are clock times like 9:00 or 13:30.
	StartTime string
	EndTime   string
	Report    string
	// TriggerAt overrides the computed trigger instant. Debug profile
	// only; production always derives it from the instrument.
	TriggerAt time.Time
}

type Reserver struct {
	catalog   *instrument.Catalog
	scheduler JobScheduler
	verifier  Verifier
	cfg       config.Config
	log       zerolog.Logger

	now func() time.Time
}

func NewReserver(cat *instrument.Catalog, sched JobScheduler, verifier Verifier, cfg config.Config, log zerolog.Logger) *Reserver {
	return &Reserver{
		catalog:   cat,
		scheduler: sched,
		verifier:  verifier,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// ScheduleReservation resolves the instrument, validates the wish, verifies
// the credential, and persists the job. Nothing is persisted on any failure:
// an unresolvable instrument or bad field aborts before the credential is
// even checked.
func (r *Reserver) ScheduleReservation(ctx context.Context, p Params) (jobID string, triggerAt time.Time, err error) {
	ins, err := r.catalog.Get(p.Instrument)
	if err != nil {
		return "", time.Time{}, err
	}

	date, err := time.ParseInLocation("2006-01-02", p.ReserveDate, time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid reserve date %q (want 2006-01-02): %w", p.ReserveDate, err)
	}
	start, err := parseClock(p.StartTime)
	if err != nil {
		return "", time.Time{}, err
	}
	end, err := parseClock(p.EndTime)
	if err != nil {
		return "", time.Time{}, err
	}
	report := p.Report
	if report == "" {
		report = "tem"
	}

	req := portal.Request{
		ReserveDate:  date.Format("2006年01月02日"),
		StartTime:    start,
		EndTime:      end,
		InstrumentID: ins.ID,
		Report:       report,
	}

	debug := r.cfg.Profile == config.ProfileDebug
	switch {
	case debug && !p.TriggerAt.IsZero():
		triggerAt = p.TriggerAt
	case debug:
		triggerAt = r.now()
	default:
		triggerAt = reserve.TriggerTime(ins, date, r.now())
	}

	// the scheduler trusts its caller, so the credential check happens
	// here; the debug profile waives it for fast iteration
	if !debug {
		ok, err := r.verifier.Verify(ctx, p.Username, p.Password)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("verify credential: %w", err)
		}
		if !ok {
			return "", time.Time{}, ErrCredentialRejected
		}
	}

	cred := portal.Credential{Username: p.Username, Password: p.Password}
	jobID, err = r.scheduler.Schedule(ctx, triggerAt, cred, req, p.Username)
	if err != nil {
		return "", time.Time{}, err
	}
	r.log.Info().
		Str("job_id", jobID).
		Str("instrument", ins.Name).
		Time("trigger_at", triggerAt).
		Msg("reservation scheduled")
	return jobID, triggerAt, nil
}

// parseClock accepts 9:00 or 09:00 and normalizes to HH:MM.
func parseClock(s string) (string, error) {
	for _, layout := range []string{"15:04", "3:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04"), nil
		}
	}
	return "", fmt.Errorf("invalid time %q (want HH:MM)", s)
}
