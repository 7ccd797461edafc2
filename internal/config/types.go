// Package config loads the JSON or YAML configuration file and publishes
// validated changes to subscribers while the process runs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	ExecutionLog ExecutionLogConfig `json:"execution_log"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the task catalog backend. Changes need a restart.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/jobkeeper.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`                 // memory | sqlite | postgres
	Path        string `json:"path,omitempty"`         // sqlite file
	DSN         string `json:"dsn,omitempty"`          // postgres (never logged)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres pool size
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA name; empty means local time
}

// ExecutionLogConfig controls where execution records go and how long they are kept.
//
// Retention is a Go duration string; "0s" or empty keeps history forever.
type ExecutionLogConfig struct {
	Store          bool        `json:"store"`
	File           LoggingFile `json:"file"`
	Retention      string      `json:"retention,omitempty"`
	WarnRatePerSec int         `json:"warn_rate_per_sec,omitempty"`
}

// MetricsConfig controls the Prometheus scrape endpoint. Changes need a restart.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":9090"
	Path    string `json:"path,omitempty"` // default "/metrics"
}

// Default is used when no config file exists.
func Default() *Config {
	return &Config{
		Logging:      LoggingConfig{Level: "info", Console: true},
		Storage:      StorageConfig{Driver: "sqlite", Path: "./data/jobkeeper.db"},
		Scheduler:    SchedulerConfig{Enabled: true},
		ExecutionLog: ExecutionLogConfig{Store: true, Retention: "720h"},
	}
}

// Validate checks values that cannot be caught by strict decoding.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if _, err := ParseDurationField("execution_log.retention", c.ExecutionLog.Retention); err != nil {
		errs = append(errs, err)
	}
	if c.ExecutionLog.File.Enabled && strings.TrimSpace(c.ExecutionLog.File.Path) == "" {
		errs = append(errs, errors.New("execution_log.file.path is required when enabled"))
	}
	if c.ExecutionLog.WarnRatePerSec < 0 {
		errs = append(errs, errors.New("execution_log.warn_rate_per_sec must be >= 0"))
	}
	return errors.Join(errs...)
}
