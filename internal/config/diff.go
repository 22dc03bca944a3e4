package config

import (
	"sort"
	"strings"

	logx "unitforge/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and
// structured attrs describing their new values, for a reload log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.UnitDir != newCfg.UnitDir || oldCfg.RecordsDir != newCfg.RecordsDir {
		changed = append(changed, "paths")
		attrs = append(attrs,
			logx.String("unit_dir", newCfg.UnitDir),
			logx.String("records_dir", newCfg.RecordsDir),
		)
	}

	if oldCfg.Backend != newCfg.Backend ||
		strings.TrimSpace(oldCfg.CommandTimeout) != strings.TrimSpace(newCfg.CommandTimeout) ||
		strings.TrimSpace(oldCfg.EnabledCacheTTL) != strings.TrimSpace(newCfg.EnabledCacheTTL) {
		changed = append(changed, "backend")
		attrs = append(attrs,
			logx.String("backend", newCfg.Backend),
			logx.String("command_timeout", strings.TrimSpace(newCfg.CommandTimeout)),
			logx.String("enabled_cache_ttl", strings.TrimSpace(newCfg.EnabledCacheTTL)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oa, na := derefAudit(oldCfg.Audit), derefAudit(newCfg.Audit)
	if oa != na {
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.String("audit.driver", na.Driver),
			logx.Bool("audit.path_set", na.Path != ""),
		)
	}

	if oldCfg.Follow != newCfg.Follow {
		changed = append(changed, "follow")
		attrs = append(attrs,
			logx.String("follow.interval", newCfg.Follow.Interval),
			logx.Int("follow.log_lines", newCfg.Follow.LogLines),
		)
	}

	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.Bool("monitor.enabled", newCfg.Monitor.Enabled),
			logx.String("monitor.schedule", newCfg.Monitor.Schedule),
			logx.String("monitor.metrics_addr", newCfg.Monitor.MetricsAddr),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefAudit(a *AuditConfig) AuditConfig {
	if a == nil {
		return AuditConfig{}
	}
	return AuditConfig{
		Driver:      strings.ToLower(strings.TrimSpace(a.Driver)),
		Path:        strings.TrimSpace(a.Path),
		BusyTimeout: strings.TrimSpace(a.BusyTimeout),
	}
}
