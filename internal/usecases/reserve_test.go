package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philosquare/zju-tem/internal/config"
	"github.com/philosquare/zju-tem/internal/instrument"
	"github.com/philosquare/zju-tem/internal/internaltypes"
	"github.com/philosquare/zju-tem/internal/portal"
)

type stubScheduler struct {
	jobID     string
	err       error
	calls     int
	triggerAt time.Time
	cred      portal.Credential
	req       portal.Request
	owner     string
}

func (s *stubScheduler) Schedule(ctx context.Context, triggerAt time.Time, cred portal.Credential, req portal.Request, owner string) (string, error) {
	s.calls++
	s.triggerAt = triggerAt
	s.cred = cred
	s.req = req
	s.owner = owner
	return s.jobID, s.err
}

type stubVerifier struct {
	ok    bool
	err   error
	calls int
}

func (s *stubVerifier) Verify(ctx context.Context, username, password string) (bool, error) {
	s.calls++
	return s.ok, s.err
}

func prodConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Default(config.ProfileProduction)
	require.NoError(t, err)
	return cfg
}

func debugConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Default(config.ProfileDebug)
	require.NoError(t, err)
	return cfg
}

func params() Params {
	return Params{
		Username:    "alice",
		Password:    "secret",
		Instrument:  "OLD_F20",
		ReserveDate: "2026-09-05",
		StartTime:   "9:00",
		EndTime:     "13:00",
	}
}

func newReserver(t *testing.T, cfg config.Config, sched *stubScheduler, ver *stubVerifier) *Reserver {
	t.Helper()
	r := NewReserver(instrument.DefaultCatalog(), sched, ver, cfg, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local) }
	return r
}

func TestScheduleReservationHappyPath(t *testing.T) {
	sched := &stubScheduler{jobID: "job-1"}
	ver := &stubVerifier{ok: true}
	r := newReserver(t, prodConfig(t), sched, ver)

	id, trigger, err := r.ScheduleReservation(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	// OLD_F20 publishes Saturday 12:00; 2026-09-05 is a Saturday, so the
	// race opens the previous Saturday
	assert.Equal(t, time.Date(2026, 8, 29, 12, 0, 0, 0, time.Local), trigger)
	assert.Equal(t, 1, ver.calls)

	assert.Equal(t, "2026年09月05日", sched.req.ReserveDate)
	assert.Equal(t, "09:00", sched.req.StartTime, "9:00 normalized to 09:00")
	assert.Equal(t, "13:00", sched.req.EndTime)
	assert.Equal(t, "28ad18ae3ebb4f91b1d52553019ca381", sched.req.InstrumentID)
	assert.Equal(t, "tem", sched.req.Report, "report defaults")
	assert.Equal(t, "alice", sched.owner)
	assert.Equal(t, portal.Credential{Username: "alice", Password: "secret"}, sched.cred)
}

func TestScheduleReservationUnknownInstrumentAbortsEarly(t *testing.T) {
	sched := &stubScheduler{}
	ver := &stubVerifier{ok: true}
	r := newReserver(t, prodConfig(t), sched, ver)

	p := params()
	p.Instrument = "SEM"
	_, _, err := r.ScheduleReservation(context.Background(), p)
	assert.True(t, errors.Is(err, internaltypes.ErrNotFound))
	assert.Zero(t, sched.calls, "no job created")
	assert.Zero(t, ver.calls, "credential never checked")
}

func TestScheduleReservationValidatesFields(t *testing.T) {
	for name, mutate := range map[string]func(*Params){
		"bad date":  func(p *Params) { p.ReserveDate = "asdefdsa ff" },
		"bad start": func(p *Params) { p.StartTime = "三改" },
		"bad end":   func(p *Params) { p.EndTime = "25:99" },
	} {
		t.Run(name, func(t *testing.T) {
			sched := &stubScheduler{}
			r := newReserver(t, prodConfig(t), sched, &stubVerifier{ok: true})
			p := params()
			mutate(&p)
			_, _, err := r.ScheduleReservation(context.Background(), p)
			assert.Error(t, err)
			assert.Zero(t, sched.calls)
		})
	}
}

func TestScheduleReservationRejectedCredential(t *testing.T) {
	sched := &stubScheduler{}
	r := newReserver(t, prodConfig(t), sched, &stubVerifier{ok: false})

	_, _, err := r.ScheduleReservation(context.Background(), params())
	assert.ErrorIs(t, err, ErrCredentialRejected)
	assert.Zero(t, sched.calls)
}

func TestScheduleReservationVerifierTransportError(t *testing.T) {
	sched := &stubScheduler{}
	r := newReserver(t, prodConfig(t), sched, &stubVerifier{err: errors.New("portal down")})

	_, _, err := r.ScheduleReservation(context.Background(), params())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialRejected)
	assert.Zero(t, sched.calls)
}

func TestScheduleReservationDebugProfile(t *testing.T) {
	sched := &stubScheduler{jobID: "job-1"}
	ver := &stubVerifier{}
	r := newReserver(t, debugConfig(t), sched, ver)

	// explicit trigger honored, verification skipped
	p := params()
	p.TriggerAt = time.Date(2026, 8, 26, 8, 0, 0, 0, time.Local)
	_, trigger, err := r.ScheduleReservation(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p.TriggerAt, trigger)
	assert.Zero(t, ver.calls)

	// without an explicit trigger the job fires immediately
	_, trigger, err = r.ScheduleReservation(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, r.now(), trigger)
}
