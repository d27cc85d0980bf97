package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/me/taskd/internal/executor"
	"github.com/me/taskd/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file and default values.
const (
	EnvAddr     = "TASKD_ADDR"
	EnvDBPath   = "TASKD_DB"
	EnvLogLevel = "TASKD_LOG_LEVEL"
)

// ServerConfig holds configuration for the taskd server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json
	DBPath    string `yaml:"db_path"`    // SQLite database path (":memory:" for testing)

	Scheduler scheduler.Config `yaml:"scheduler"`
	Executor  executor.Config  `yaml:"executor"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		DBPath:    "tasks.db",
		Scheduler: scheduler.DefaultConfig(),
		Executor:  executor.DefaultConfig(),
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current value. A missing file is an error; callers pass
// an empty path to skip loading.
func LoadFile(cfg *ServerConfig, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with non-empty TASKD_* variables read through
// getenv (os.Getenv in production).
func ApplyEnv(cfg *ServerConfig, getenv func(string) string) {
	if v := getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// Validate reports settings that would make the server misbehave.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, errors.New("scheduler.poll_interval must be positive"))
	}
	if c.Scheduler.Lookahead < 0 {
		errs = append(errs, errors.New("scheduler.lookahead must not be negative"))
	}
	if c.Executor.Bar.RatePerSec < 0 {
		errs = append(errs, errors.New("executor.bar.rate_per_sec must not be negative"))
	}
	return errors.Join(errs...)
}
