// Package app wires configuration, logging, storage, the service manager and
// the lifecycle orchestrator into one object used by the CLI.
package app

import (
	"context"
	"errors"
	"strings"

	"unitforge/internal/config"
	"unitforge/internal/follow"
	"unitforge/internal/lifecycle"
	"unitforge/internal/storage"
	"unitforge/internal/store"
	"unitforge/internal/validate"
	logx "unitforge/pkg/logx"
	"unitforge/pkg/systemdmanager"
)

// ErrAuditDisabled is returned by History when no audit store is configured.
var ErrAuditDisabled = errors.New("audit log is disabled (set audit.driver in the config)")

// Options are command-line overrides. Empty fields keep the config value.
type Options struct {
	ConfigPath string
	UnitDir    string
	RecordsDir string
	Backend    string
	LogLevel   string

	// Manager replaces the configured backend.
	Manager systemdmanager.Manager
	// Env replaces the host environment used by static validation.
	Env validate.Env
}

type App struct {
	opts Options

	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	audit     storage.Store
	mgr       systemdmanager.Manager
	records   *store.Store
	validator *validate.Validator
	orch      *lifecycle.Orchestrator
}

func New(ctx context.Context, opts Options) (*App, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = config.DefaultPath()
	}
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	a := &App{opts: opts, cfgm: cfgm, cfg: cfg, log: log, logs: logSvc}

	sc, enabled, err := mapStorageConfig(cfg.Audit)
	if err != nil {
		a.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.audit = st
		log.Debug("audit enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	mgr := opts.Manager
	if mgr == nil {
		if mgr, err = systemdmanager.New(ctx, cfg.Backend); err != nil {
			a.Close()
			return nil, err
		}
		if d, ok := mgr.(*systemdmanager.DBus); ok {
			d.SetEnabledCacheTTL(cfg.EnabledCacheTTLValue())
		}
	}
	a.mgr = systemdmanager.WithTimeout(mgr, cfg.CommandTimeoutOrDefault())

	a.records = store.New(cfg.RecordsDir, log.With(logx.String("comp", "store")))
	a.validator = validate.New(cfg.UnitDir)
	a.validator.LogLines = cfg.Follow.LogLines
	if opts.Env != nil {
		a.validator.Env = opts.Env
	}

	a.orch, err = lifecycle.New(lifecycle.Options{
		Manager:   a.mgr,
		Store:     a.records,
		Validator: a.validator,
		Audit:     a.audit,
		Log:       log.With(logx.String("comp", "lifecycle")),
		UnitDir:   cfg.UnitDir,
		LogLines:  cfg.Follow.LogLines,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) Config() *config.Config                { return a.cfg }
func (a *App) Logger() logx.Logger                   { return a.log }
func (a *App) Manager() systemdmanager.Manager       { return a.mgr }
func (a *App) Records() *store.Store                 { return a.records }
func (a *App) Validator() *validate.Validator        { return a.validator }
func (a *App) Orchestrator() *lifecycle.Orchestrator { return a.orch }

// NewFollower returns an unstarted follower for name using the configured
// poll interval.
func (a *App) NewFollower(name string) *follow.Follower {
	return follow.New(a.validator, a.mgr, name,
		follow.Config{Interval: a.cfg.FollowInterval()},
		a.log.With(logx.String("comp", "follow")))
}

// History returns audit entries for target (every target when empty).
func (a *App) History(ctx context.Context, target string, limit int) ([]storage.AuditEntry, error) {
	if a.audit == nil {
		return nil, ErrAuditDisabled
	}
	return a.audit.ListAudit(ctx, target, limit)
}

// Close releases the audit store, the manager connection and log files.
func (a *App) Close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
		a.audit = nil
	}
	if c, ok := a.mgr.(systemdmanager.Closer); ok {
		errs = append(errs, c.Close())
	}
	a.mgr = nil
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
		a.logs = nil
	}
	return errors.Join(errs...)
}

// applyOverrides layers command-line options over a loaded config.
func applyOverrides(cfg *config.Config, opts Options) error {
	if v := strings.TrimSpace(opts.UnitDir); v != "" {
		cfg.UnitDir = v
	}
	if v := strings.TrimSpace(opts.RecordsDir); v != "" {
		cfg.RecordsDir = v
	}
	if v := strings.TrimSpace(opts.Backend); v != "" {
		cfg.Backend = v
	}
	if v := strings.TrimSpace(opts.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	cfg.Normalize()
	return cfg.Validate()
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  logx.Format(cfg.Logging.Format),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
