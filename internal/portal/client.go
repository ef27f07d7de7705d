// Package portal talks to the instrument-booking portal. The portal is a
// classic server-rendered form site: state lives in cookies and outcomes are
// reported through redirect locations rather than status codes or bodies.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrEmptyCredential is a precondition failure, never retried.
	ErrEmptyCredential = errors.New("username and password can not be empty")
	// ErrNotLoggedIn means SubmitReservation was called before a
	// successful Login on the same session.
	ErrNotLoggedIn = errors.New("must log in before submitting a reservation")
)

// Credential is a portal account. It lives only as long as the job that
// carries it and is replayed on every fired attempt.
type Credential struct {
	Username string
	Password string
}

func (c Credential) Empty() bool { return c.Username == "" || c.Password == "" }

// Request holds the reservation form fields exactly as the portal wants
// them: ReserveDate is already locale-formatted (2006年01月02日), times are
// HH:MM.
type Request struct {
	ReserveDate  string
	StartTime    string
	EndTime      string
	InstrumentID string
	Report       string
}

// Result is the portal's answer to one submission. A rejected submission is
// not an error: Message carries the portal's reason.
type Result struct {
	Accepted bool
	Message  string
}

type Config struct {
	LoginURL      string
	ReserveURL    string
	LoginAttempts int
	Timeout       time.Duration
}

// Client builds sessions against one portal deployment.
type Client struct {
	cfg Config
	log zerolog.Logger

	// backoffUnit scales the login retry sleep; overridden in tests.
	backoffUnit time.Duration
}

func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.LoginAttempts < 1 {
		cfg.LoginAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, log: log, backoffUnit: 500 * time.Millisecond}
}

// Session is one cookie-bound conversation with the portal. Sessions are
// cheap and single-owner: every retry run gets a fresh one and they are never
// shared across concurrently firing jobs.
type Session struct {
	client        *Client
	hc            *http.Client
	authenticated bool
}

func (c *Client) NewSession() *Session {
	jar, _ := cookiejar.New(nil) // err only on bad options
	return &Session{
		client: c,
		hc:     &http.Client{Jar: jar, Timeout: c.cfg.Timeout},
	}
}

// Login posts the credential. The portal redirects away from the login page
// on success and re-renders it on bad credentials, so success is decided by
// the final URL. Transport failures are retried up to the configured attempt
// limit with a growing sleep; exhaustion surfaces the last failure.
func (s *Session) Login(ctx context.Context, cred Credential) (bool, error) {
	if cred.Empty() {
		return false, ErrEmptyCredential
	}
	form := url.Values{
		"origUrl":    {""},
		"origType":   {""},
		"rememberMe": {"false"},
		"username":   {cred.Username},
		"password":   {cred.Password},
	}

	cfg := s.client.cfg
	var resp *http.Response
	var lastErr error
	for i := 0; i < cfg.LoginAttempts; i++ {
		resp, lastErr = s.postForm(ctx, cfg.LoginURL, form)
		if lastErr == nil {
			break
		}
		s.client.log.Warn().Err(lastErr).Int("attempt", i+1).Msg("login attempt failed")
		if i < cfg.LoginAttempts-1 {
			if err := sleep(ctx, time.Duration(i+1)*s.client.backoffUnit); err != nil {
				return false, err
			}
		}
	}
	if lastErr != nil {
		return false, fmt.Errorf("login exceeded %d tries: %w", cfg.LoginAttempts, lastErr)
	}

	s.authenticated = finalURL(resp) != cfg.LoginURL
	return s.authenticated, nil
}

// SubmitReservation posts one reservation. Valid only after a successful
// Login. The outcome rides on the redirect's query string: an errorType
// containing "success" means the slot was claimed, otherwise errorCode holds
// a double percent-encoded rejection reason.
func (s *Session) SubmitReservation(ctx context.Context, req Request) (Result, error) {
	if !s.authenticated {
		return Result{}, ErrNotLoggedIn
	}
	form := url.Values{
		"reserveDate":      {req.ReserveDate},
		"reserveStartTime": {req.StartTime},
		"reserveEndTime":   {req.EndTime},
		"instrumentId":     {req.InstrumentID},
		"ReserveReport":    {req.Report},
	}
	resp, err := s.postForm(ctx, s.client.cfg.ReserveURL, form)
	if err != nil {
		return Result{}, err
	}

	loc, err := url.Parse(finalURL(resp))
	if err != nil {
		return Result{}, fmt.Errorf("parse redirect location: %w", err)
	}
	query := loc.Query()
	if strings.Contains(query.Get("errorType"), "success") {
		return Result{Accepted: true, Message: "预约成功"}, nil
	}
	return Result{Message: decodeErrorCode(query.Get("errorCode"))}, nil
}

func (s *Session) postForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	// The portal intermittently 500s under the publish-time stampede;
	// treat that like any other transport failure.
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("portal returned status %d for %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// finalURL is where the portal left us after redirects.
func finalURL(resp *http.Response) string {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.String()
}

// decodeErrorCode percent-decodes twice: the portal encodes the message once
// itself and the redirect encodes it again.
func decodeErrorCode(raw string) string {
	once, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	twice, err := url.QueryUnescape(once)
	if err != nil {
		return once
	}
	return twice
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
