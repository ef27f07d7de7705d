package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philosquare/zju-tem/internal/jobs"
	"github.com/philosquare/zju-tem/internal/portal"
	"github.com/philosquare/zju-tem/internal/reserve"
)

const admin = "root"

type fakeRunner struct {
	mu      sync.Mutex
	calls   []portal.Request
	outcome reserve.Outcome
	fired   chan struct{}
}

func newFakeRunner(out reserve.Outcome) *fakeRunner {
	return &fakeRunner{outcome: out, fired: make(chan struct{}, 16)}
}

func (f *fakeRunner) Run(ctx context.Context, cred portal.Credential, req portal.Request) reserve.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	f.fired <- struct{}{}
	return f.outcome
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(t *testing.T, runner Runner) *Scheduler {
	t.Helper()
	st, err := jobs.Open(filepath.Join(t.TempDir(), "jobs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	if runner == nil {
		runner = newFakeRunner(reserve.Outcome{})
	}
	return New(st, runner, Config{AdminUsername: admin, PollInterval: 5 * time.Millisecond}, zerolog.Nop())
}

func cred(user string) portal.Credential {
	return portal.Credential{Username: user, Password: "pw"}
}

func request() portal.Request {
	return portal.Request{
		ReserveDate:  "2026年09月05日",
		StartTime:    "09:00",
		EndTime:      "13:00",
		InstrumentID: "28ad18ae3ebb4f91b1d52553019ca381",
		Report:       "tem",
	}
}

func TestSchedulePastTriggerClampsToNow(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()

	before := time.Now()
	id, err := s.Schedule(ctx, before.Add(-time.Hour), cred("alice"), request(), "alice")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	js, err := s.ListJobs(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, js, 1)
	assert.False(t, js[0].TriggerAt.Before(before.Truncate(time.Millisecond)), "past trigger clamps to now")
	assert.Equal(t, jobs.StatePending, js[0].State)
}

func TestScheduleAssignsUniqueIDs(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		id, err := s.Schedule(ctx, future, cred("alice"), request(), "alice")
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestListJobsAdminSeesAll(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	for _, owner := range []string{"alice", "alice", "bob"} {
		_, err := s.Schedule(ctx, future, cred(owner), request(), owner)
		require.NoError(t, err)
	}

	all, err := s.ListJobs(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	alice, err := s.ListJobs(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 2)
	for _, j := range alice {
		assert.Equal(t, "alice", j.Owner)
	}
	assert.GreaterOrEqual(t, len(all), len(alice))
}

func TestCancelJobAuthorization(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	id, err := s.Schedule(ctx, future, cred("alice"), request(), "alice")
	require.NoError(t, err)

	// a stranger can neither cancel nor learn the job exists
	ok, err := s.CancelJob(ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	missing, err := s.CancelJob(ctx, "no-such-id", "bob")
	require.NoError(t, err)
	assert.False(t, missing, "missing and unauthorized are indistinguishable")

	all, err := s.ListJobs(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 1, "refused cancel leaves the job in place")

	ok, err = s.CancelJob(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	id2, err := s.Schedule(ctx, future, cred("alice"), request(), "alice")
	require.NoError(t, err)
	ok, err = s.CancelJob(ctx, id2, admin)
	require.NoError(t, err)
	assert.True(t, ok, "admin may cancel anyone's job")
}

func TestCancelAllJobsScoping(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	for _, owner := range []string{"alice", "alice", "bob"} {
		_, err := s.Schedule(ctx, future, cred(owner), request(), owner)
		require.NoError(t, err)
	}

	require.NoError(t, s.CancelAllJobs(ctx, "alice"))
	bob, err := s.ListJobs(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bob, 1, "other users' jobs untouched")
	alice, err := s.ListJobs(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice)

	require.NoError(t, s.CancelAllJobs(ctx, admin))
	all, err := s.ListJobs(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, all, "admin wipes everything")
}

func TestRunFiresDueJobExactlyOnce(t *testing.T) {
	runner := newFakeRunner(reserve.Outcome{Booked: true, Attempts: 2, Message: "预约成功"})
	s := newTestScheduler(t, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := s.Schedule(ctx, time.Now().Add(-time.Second), cred("alice"), request(), "alice")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	select {
	case <-runner.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("job never fired")
	}
	// let several more ticks pass; the claim must not be won twice
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, runner.count())

	js, err := s.ListJobs(ctx, admin)
	require.NoError(t, err)
	require.Len(t, js, 1, "firing does not delete the record")
	assert.Equal(t, jobs.StateBooked, js[0].State)
	assert.Equal(t, "预约成功", js[0].LastMessage)
	assert.Equal(t, id, js[0].ID)
}

func TestRunRecordsExhaustionAsFailed(t *testing.T) {
	runner := newFakeRunner(reserve.Outcome{Booked: false, Attempts: 10, Message: "时间段已被预约"})
	s := newTestScheduler(t, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Schedule(ctx, time.Now(), cred("alice"), request(), "alice")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	select {
	case <-runner.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("job never fired")
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	js, err := s.ListJobs(ctx, admin)
	require.NoError(t, err)
	require.Len(t, js, 1)
	assert.Equal(t, jobs.StateFailed, js[0].State)
	assert.Equal(t, "时间段已被预约", js[0].LastMessage)
}

func TestCancelPreventsFutureFiring(t *testing.T) {
	runner := newFakeRunner(reserve.Outcome{})
	s := newTestScheduler(t, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := s.Schedule(ctx, time.Now().Add(time.Hour), cred("alice"), request(), "alice")
	require.NoError(t, err)
	ok, err := s.CancelJob(ctx, id, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	assert.Zero(t, runner.count())
}
