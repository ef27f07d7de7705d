package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfiles(t *testing.T) {
	prod, err := Default(ProfileProduction)
	require.NoError(t, err)
	assert.Equal(t, 10, prod.Retry.Attempts)
	assert.Equal(t, 3, prod.Portal.LoginAttempts)
	assert.Equal(t, "jobs.sqlite", prod.Scheduler.StorePath)
	assert.Empty(t, prod.TestUsers)

	dbg, err := Default(ProfileDebug)
	require.NoError(t, err)
	assert.Equal(t, 1, dbg.Retry.Attempts)
	assert.Equal(t, "jobs_debug.sqlite", dbg.Scheduler.StorePath)
	assert.NotEqual(t, prod.Scheduler.StorePath, dbg.Scheduler.StorePath)

	_, err = Default(Profile("staging"))
	assert.Error(t, err)
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temsched.yaml")
	data := `
retry:
  attempts: 5
  interval: 250ms
scheduler:
  store_path: /tmp/override.sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path, ProfileProduction)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Interval.Std())
	assert.Equal(t, "/tmp/override.sqlite", cfg.Scheduler.StorePath)
	// untouched defaults survive the overlay
	assert.Equal(t, "http://cem.ylab.cn/doLogin.action", cfg.Portal.LoginURL)
}

func TestIsTestUser(t *testing.T) {
	dbg, err := Default(ProfileDebug)
	require.NoError(t, err)
	assert.True(t, dbg.IsTestUser("testuser1"))
	assert.False(t, dbg.IsTestUser("someone"))

	prod, err := Default(ProfileProduction)
	require.NoError(t, err)
	prod.TestUsers = []string{"testuser1"}
	assert.False(t, prod.IsTestUser("testuser1"), "production never honors test users")
}
