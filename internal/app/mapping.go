package app

import (
	"strings"
	"time"

	"jobkeeper/internal/config"
	"jobkeeper/internal/joblog"
	"jobkeeper/internal/metrics"
	"jobkeeper/internal/storage"
	"jobkeeper/internal/task/scheduler"
	logx "jobkeeper/pkg/logx"
)

const defaultBusyTimeout = time.Second

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

func mapExecutionLogConfig(cfg *config.Config) (joblog.Config, error) {
	el := cfg.ExecutionLog
	retention, err := config.ParseDurationField("execution_log.retention", el.Retention)
	if err != nil {
		return joblog.Config{}, err
	}
	return joblog.Config{
		Store: el.Store,
		File: joblog.FileConfig{
			Enabled: el.File.Enabled,
			Path:    strings.TrimSpace(el.File.Path),
		},
		Retention:      retention,
		WarnRatePerSec: el.WarnRatePerSec,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) metrics.Config {
	return metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    strings.TrimSpace(cfg.Metrics.Addr),
		Path:    strings.TrimSpace(cfg.Metrics.Path),
	}
}
