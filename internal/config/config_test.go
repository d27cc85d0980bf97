package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4*time.Second, cfg.Scheduler.PollInterval)
	assert.Greater(t, cfg.Scheduler.Lookahead, cfg.Scheduler.PollInterval)
	assert.Equal(t, "@daily", cfg.Scheduler.RepeatSchedule)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_Overlay(t *testing.T) {
	path := writeConfig(t, `
addr: ":9090"
log_format: json
scheduler:
  poll_interval: 2s
  repeat_schedule: "@every 1h"
executor:
  bar:
    url: http://localhost:1234/
    rate_per_sec: 0.5
`)
	cfg := DefaultServerConfig()
	require.NoError(t, LoadFile(&cfg, path))

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, "@every 1h", cfg.Scheduler.RepeatSchedule)
	assert.Equal(t, "http://localhost:1234/", cfg.Executor.Bar.URL)
	assert.InDelta(t, 0.5, cfg.Executor.Bar.RatePerSec, 1e-9)

	// Untouched keys keep their defaults.
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.LeaseTTL)
	assert.Equal(t, 3*time.Second, cfg.Executor.FooDelay)
}

func TestLoadFile_EmptyPath(t *testing.T) {
	cfg := DefaultServerConfig()
	require.NoError(t, LoadFile(&cfg, ""))
	assert.Equal(t, DefaultServerConfig(), cfg)
}

func TestLoadFile_Missing(t *testing.T) {
	cfg := DefaultServerConfig()
	err := LoadFile(&cfg, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeConfig(t, "scheduler: [unterminated")
	cfg := DefaultServerConfig()
	assert.Error(t, LoadFile(&cfg, path))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAddr:     "127.0.0.1:7000",
		EnvDBPath:   ":memory:",
		EnvLogLevel: "",
	}
	cfg := DefaultServerConfig()
	ApplyEnv(&cfg, func(k string) string { return env[k] })

	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel, "empty variable must not override")
}

func TestValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Addr = ""
	cfg.Scheduler.PollInterval = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "addr")
	assert.Contains(t, err.Error(), "poll_interval")
}
