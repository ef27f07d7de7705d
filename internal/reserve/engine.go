package reserve

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/philosquare/zju-tem/internal/portal"
)

// Session is the slice of portal.Session the engine drives. A fresh session
// is created per run so cookie state never leaks between jobs.
type Session interface {
	Login(ctx context.Context, cred portal.Credential) (bool, error)
	SubmitReservation(ctx context.Context, req portal.Request) (portal.Result, error)
}

// SessionFactory yields an isolated session for one retry run.
type SessionFactory func() Session

// NewSessionFactory adapts a portal client.
func NewSessionFactory(c *portal.Client) SessionFactory {
	return func() Session { return c.NewSession() }
}

// Outcome is the terminal result of one retry run. A run is never resumed:
// retrying a failed run means scheduling a new job.
type Outcome struct {
	Booked   bool
	Attempts int
	Message  string
}

// Engine logs in once and then hammers the reservation endpoint until the
// portal accepts, the attempt budget runs out, or the context dies. Attempt
// count and interval are the main levers against the publish-time stampede,
// so they come from the deployment profile.
type Engine struct {
	sessions SessionFactory
	attempts int
	interval time.Duration
	log      zerolog.Logger

	// sleep is swapped out in tests to count interval waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(sessions SessionFactory, attempts int, interval time.Duration, log zerolog.Logger) *Engine {
	if attempts < 1 {
		attempts = 1
	}
	return &Engine{
		sessions: sessions,
		attempts: attempts,
		interval: interval,
		log:      log,
		sleep:    sleepCtx,
	}
}

// Run drives one reservation race. A login failure (transport or rejected
// credentials) ends the run with zero submissions. After login, every
// submission error is logged and burns one attempt; the loop only stops on
// acceptance or exhaustion.
func (e *Engine) Run(ctx context.Context, cred portal.Credential, req portal.Request) Outcome {
	log := e.log.With().
		Str("user", cred.Username).
		Str("date", req.ReserveDate).
		Str("window", req.StartTime+"-"+req.EndTime).
		Logger()

	sess := e.sessions()
	ok, err := sess.Login(ctx, cred)
	if err != nil {
		log.Warn().Err(err).Msg("reservation run aborted: login failed")
		return Outcome{Message: fmt.Sprintf("login failed: %v", err)}
	}
	if !ok {
		log.Warn().Msg("reservation run aborted: portal rejected credentials")
		return Outcome{Message: "portal rejected credentials"}
	}

	var lastMsg string
	for i := 0; i < e.attempts; i++ {
		res, err := sess.SubmitReservation(ctx, req)
		switch {
		case err != nil:
			lastMsg = err.Error()
			log.Warn().Err(err).Int("attempt", i+1).Msg("reservation attempt errored")
		case res.Accepted:
			log.Info().Int("attempt", i+1).Msg("reservation accepted")
			return Outcome{Booked: true, Attempts: i + 1, Message: res.Message}
		default:
			lastMsg = res.Message
			log.Info().Int("attempt", i+1).Str("reason", res.Message).Msg("reservation rejected")
		}

		if i < e.attempts-1 {
			if err := e.sleep(ctx, e.interval); err != nil {
				log.Warn().Err(err).Int("attempts", i+1).Msg("reservation run cancelled")
				return Outcome{Attempts: i + 1, Message: "cancelled: " + err.Error()}
			}
		}
	}
	log.Warn().Int("attempts", e.attempts).Msg("reservation failed: attempt budget exhausted")
	return Outcome{Attempts: e.attempts, Message: lastMsg}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
