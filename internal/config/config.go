package config

import (
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Profile selects one of the two deployment shapes: the production profile
// with real retry windows, or the debug profile used for fast iteration
// against a throwaway store.
type Profile string

const (
	ProfileProduction Profile = "production"
	ProfileDebug      Profile = "debug"
)

type Config struct {
	Profile Profile `yaml:"profile"`

	Admin     Admin     `yaml:"admin"`
	Portal    Portal    `yaml:"portal"`
	Retry     Retry     `yaml:"retry"`
	Scheduler Scheduler `yaml:"scheduler"`

	// TestUsers may schedule without a portal login check. Honored only
	// under the debug profile.
	TestUsers []string `yaml:"test_users"`
}

type Admin struct {
	Username string `yaml:"username"`
	// PasswordHash is a bcrypt hash of the admin password.
	PasswordHash string `yaml:"password_hash"`
}

type Portal struct {
	LoginURL   string   `yaml:"login_url"`
	ReserveURL string   `yaml:"reserve_url"`
	Timeout    Duration `yaml:"timeout"`
	// LoginAttempts bounds the login transport-retry loop.
	LoginAttempts int `yaml:"login_attempts"`
}

type Retry struct {
	// Attempts is the number of reservation submissions per fired job.
	Attempts int `yaml:"attempts"`
	// Interval is the pause between submissions.
	Interval Duration `yaml:"interval"`
}

type Scheduler struct {
	// StorePath is the sqlite file holding persisted jobs. Profiles must
	// not share a path.
	StorePath string `yaml:"store_path"`
	// PollInterval is how often the firing loop checks for due jobs.
	PollInterval Duration `yaml:"poll_interval"`
}

// Default returns the baked-in settings for a profile.
func Default(p Profile) (Config, error) {
	base := Config{
		Profile: p,
		Admin:   Admin{Username: "root"},
		Portal: Portal{
			LoginURL:   "http://cem.ylab.cn/doLogin.action",
			ReserveURL: "http://cem.ylab.cn/user/doReserve.action",
			Timeout:    Duration(10 * time.Second),
		},
		Scheduler: Scheduler{PollInterval: Duration(time.Second)},
	}
	switch p {
	case ProfileProduction:
		base.Portal.LoginAttempts = 3
		base.Retry = Retry{Attempts: 10, Interval: Duration(time.Second)}
		base.Scheduler.StorePath = "jobs.sqlite"
	case ProfileDebug:
		base.Portal.LoginAttempts = 1
		base.Retry = Retry{Attempts: 1, Interval: Duration(time.Second)}
		base.Scheduler.StorePath = "jobs_debug.sqlite"
		base.TestUsers = []string{"testuser1", "testuser2"}
	default:
		return Config{}, fmt.Errorf("unknown profile %q", p)
	}
	return base, nil
}

// Load builds the profile defaults and overlays the yaml file at path, if
// any. An empty path returns the defaults unchanged.
func Load(path string, p Profile) (Config, error) {
	cfg, err := Default(p)
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Profile == "" {
		cfg.Profile = p
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Profile != ProfileProduction && c.Profile != ProfileDebug {
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	if c.Admin.Username == "" {
		return fmt.Errorf("admin.username is required")
	}
	if c.Portal.LoginURL == "" || c.Portal.ReserveURL == "" {
		return fmt.Errorf("portal urls are required")
	}
	if c.Portal.LoginAttempts < 1 {
		return fmt.Errorf("portal.login_attempts must be >= 1")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be >= 1")
	}
	if c.Retry.Interval < 0 {
		return fmt.Errorf("retry.interval must be >= 0")
	}
	if c.Scheduler.StorePath == "" {
		return fmt.Errorf("scheduler.store_path is required")
	}
	if c.Scheduler.PollInterval < 1 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	return nil
}

// IsTestUser reports whether username may skip portal verification. Only the
// debug profile honors the test-user list.
func (c Config) IsTestUser(username string) bool {
	if c.Profile != ProfileDebug {
		return false
	}
	for _, u := range c.TestUsers {
		if u == username {
			return true
		}
	}
	return false
}
