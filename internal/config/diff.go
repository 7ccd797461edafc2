package config

import (
	"strings"

	logx "jobkeeper/pkg/logx"
)

// Change summarizes a reload.
type Change struct {
	// Sections lists the top-level keys whose values differ.
	Sections []string
	// RestartRequired lists changed sections that only take effect after a restart.
	RestartRequired []string
	// Fields are safe structured attrs for logging (the postgres DSN is never included).
	Fields []logx.Field
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldStore, newStore := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(oldStore.Driver) != strings.TrimSpace(newStore.Driver) ||
		strings.TrimSpace(oldStore.Path) != strings.TrimSpace(newStore.Path) ||
		oldStore.DSN != newStore.DSN ||
		strings.TrimSpace(oldStore.BusyTimeout) != strings.TrimSpace(newStore.BusyTimeout) ||
		oldStore.MaxConns != newStore.MaxConns {
		ch.Sections = append(ch.Sections, "storage")
		ch.RestartRequired = append(ch.RestartRequired, "storage")
		ch.Fields = append(ch.Fields,
			logx.String("storage.driver", newStore.Driver),
			logx.Bool("storage.dsn_changed", oldStore.DSN != newStore.DSN),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		ch.Sections = append(ch.Sections, "scheduler")
		if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled {
			ch.RestartRequired = append(ch.RestartRequired, "scheduler.enabled")
		}
		ch.Fields = append(ch.Fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.ExecutionLog != newCfg.ExecutionLog {
		ch.Sections = append(ch.Sections, "execution_log")
		ch.Fields = append(ch.Fields,
			logx.Bool("execution_log.store", newCfg.ExecutionLog.Store),
			logx.Bool("execution_log.file_enabled", newCfg.ExecutionLog.File.Enabled),
			logx.String("execution_log.retention", strings.TrimSpace(newCfg.ExecutionLog.Retention)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		ch.Sections = append(ch.Sections, "metrics")
		ch.RestartRequired = append(ch.RestartRequired, "metrics")
		ch.Fields = append(ch.Fields,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}
	return ch
}
