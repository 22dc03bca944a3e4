package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the on-disk application configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Example (YAML):
//
//	unit_dir: /etc/systemd/system
//	records_dir: ~/.config/unitforge/services
//	backend: dbus
//	logging: { level: info, console: true }
//	audit: { driver: file, path: ~/.config/unitforge/audit }
//	monitor: { enabled: true, schedule: "@every 1m", metrics_addr: "127.0.0.1:9464" }
type Config struct {
	// UnitDir is where compiled unit files are installed.
	UnitDir string `json:"unit_dir,omitempty"`
	// RecordsDir holds one persisted record per service.
	RecordsDir string `json:"records_dir,omitempty"`
	// Backend selects the service-manager backend: "systemctl" (default) or "dbus".
	Backend string `json:"backend,omitempty"`
	// CommandTimeout bounds a single manager call. "0s" disables it.
	CommandTimeout string `json:"command_timeout,omitempty"`
	// EnabledCacheTTL is how long the dbus backend trusts an is-enabled
	// answer. Empty keeps the backend default, "0s" turns the cache off.
	EnabledCacheTTL string `json:"enabled_cache_ttl,omitempty"`

	Logging LoggingConfig `json:"logging"`
	// Audit is optional; nil or driver "none" disables the action history.
	Audit   *AuditConfig  `json:"audit,omitempty"`
	Follow  FollowConfig  `json:"follow"`
	Monitor MonitorConfig `json:"monitor"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format of console output: text, json or auto (text on a terminal).
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AuditConfig controls the operation history store.
//
//	"audit": { "driver": "file", "path": "./unitforge_audit" }
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // bolt and sqlite
}

type FollowConfig struct {
	Interval string `json:"interval,omitempty"`
	LogLines int    `json:"log_lines,omitempty"`
}

// MonitorConfig controls the scheduled runtime sweep.
//
// Schedule accepts a cron expression ("*/5 * * * *", "@hourly", "@every 1m"),
// a Go duration ("90s") or an HH:MM interval ("00:05").
type MonitorConfig struct {
	Enabled     bool   `json:"enabled"`
	Schedule    string `json:"schedule,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty"`
	// AlertWindow suppresses repeated failure warnings for the same service.
	AlertWindow string `json:"alert_window,omitempty"`
}

const (
	DefaultUnitDir         = "/etc/systemd/system"
	DefaultBackend         = "systemctl"
	DefaultCommandTimeout  = 30 * time.Second
	DefaultFollowInterval  = 3 * time.Second
	DefaultFollowLogLines  = 50
	DefaultMonitorSchedule = "@every 1m"
	DefaultAlertWindow     = 10 * time.Minute
)

// BaseDir is the per-user directory for records, audit data and the config
// file. It falls back to the working directory when no home is known.
func BaseDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "unitforge"
	}
	return filepath.Join(dir, "unitforge")
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string { return filepath.Join(BaseDir(), "config.yaml") }

// Default returns the configuration used when no config file exists.
func Default() *Config {
	base := BaseDir()
	return &Config{
		UnitDir:        DefaultUnitDir,
		RecordsDir:     filepath.Join(base, "services"),
		Backend:        DefaultBackend,
		CommandTimeout: DefaultCommandTimeout.String(),
		Logging:        LoggingConfig{Level: "info", Console: true},
		Audit:          &AuditConfig{Driver: "file", Path: filepath.Join(base, "audit")},
		Follow:         FollowConfig{Interval: DefaultFollowInterval.String(), LogLines: DefaultFollowLogLines},
		Monitor:        MonitorConfig{Schedule: DefaultMonitorSchedule, AlertWindow: DefaultAlertWindow.String()},
	}
}

// Normalize fills omitted fields with defaults and expands a leading "~/"
// in paths.
func (c *Config) Normalize() {
	def := Default()
	c.UnitDir = expandHome(strings.TrimSpace(c.UnitDir))
	if c.UnitDir == "" {
		c.UnitDir = def.UnitDir
	}
	c.RecordsDir = expandHome(strings.TrimSpace(c.RecordsDir))
	if c.RecordsDir == "" {
		c.RecordsDir = def.RecordsDir
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Audit != nil {
		c.Audit.Path = expandHome(strings.TrimSpace(c.Audit.Path))
	}
	c.Logging.File.Path = expandHome(strings.TrimSpace(c.Logging.File.Path))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Follow.LogLines <= 0 {
		c.Follow.LogLines = DefaultFollowLogLines
	}
	if strings.TrimSpace(c.Monitor.Schedule) == "" {
		c.Monitor.Schedule = DefaultMonitorSchedule
	}
}

// Validate checks enumerations and duration syntax. Schedule syntax is
// checked by the monitor.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", "systemctl", "dbus":
	default:
		return fmt.Errorf("backend: unknown value %q (use systemctl or dbus)", c.Backend)
	}
	switch c.Logging.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown value %q (use text, json or auto)", c.Logging.Format)
	}
	if _, err := ParseDurationField("command_timeout", c.CommandTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("enabled_cache_ttl", c.EnabledCacheTTL); err != nil {
		return err
	}
	if _, err := ParseDurationField("follow.interval", c.Follow.Interval); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitor.alert_window", c.Monitor.AlertWindow); err != nil {
		return err
	}
	if c.Audit != nil {
		switch strings.ToLower(strings.TrimSpace(c.Audit.Driver)) {
		case "", "none", "file", "bolt", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("audit.driver: unknown value %q", c.Audit.Driver)
		}
		if _, err := ParseDurationField("audit.busy_timeout", c.Audit.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// EnabledCacheTTLValue maps enabled_cache_ttl onto the backend's convention:
// 0 selects its default and a negative value disables caching.
func (c *Config) EnabledCacheTTLValue() time.Duration {
	raw := strings.TrimSpace(c.EnabledCacheTTL)
	if raw == "" {
		return 0
	}
	d, err := ParseDurationField("enabled_cache_ttl", raw)
	if err != nil {
		return 0
	}
	if d == 0 {
		return -1
	}
	return d
}

// CommandTimeoutOrDefault returns the parsed command timeout. Zero means no
// timeout; an omitted value selects DefaultCommandTimeout.
func (c *Config) CommandTimeoutOrDefault() time.Duration {
	raw := strings.TrimSpace(c.CommandTimeout)
	if raw == "" {
		return DefaultCommandTimeout
	}
	d, err := ParseDurationField("command_timeout", raw)
	if err != nil {
		return DefaultCommandTimeout
	}
	return d
}

func (c *Config) FollowInterval() time.Duration {
	d, err := ParseDurationOrDefault("follow.interval", c.Follow.Interval, DefaultFollowInterval)
	if err != nil {
		return DefaultFollowInterval
	}
	return d
}

func (c *Config) AlertWindow() time.Duration {
	d, err := ParseDurationOrDefault("monitor.alert_window", c.Monitor.AlertWindow, DefaultAlertWindow)
	if err != nil {
		return DefaultAlertWindow
	}
	return d
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
