// Package monitor runs the runtime validation pass over every persisted
// service on a schedule and exports the outcome as metrics.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"unitforge/internal/metrics"
	"unitforge/internal/storage"
	"unitforge/internal/store"
	"unitforge/internal/validate"
	logx "unitforge/pkg/logx"
	"unitforge/pkg/systemdmanager"
)

const (
	DefaultAlertWindow  = 10 * time.Minute
	DefaultSweepTimeout = 2 * time.Minute
)

// Config is the hot-reloadable part of the monitor.
type Config struct {
	Enabled     bool
	Schedule    string
	AlertWindow time.Duration
}

type Options struct {
	Records   *store.Store
	Manager   systemdmanager.Manager
	Validator *validate.Validator
	// Dedup persists alert suppression windows. When nil, suppression is
	// kept in memory for the life of the process.
	Dedup        storage.Store
	Log          logx.Logger
	SweepTimeout time.Duration
	Now          func() time.Time
}

// ServiceReport is the sweep outcome for one service.
type ServiceReport struct {
	Name      string               `json:"name"`
	State     validate.State       `json:"state"`
	Diagnoses []validate.Diagnosis `json:"diagnoses,omitempty"`
	Error     string               `json:"error,omitempty"`
	Alerted   bool                 `json:"alerted,omitempty"`
}

type Summary struct {
	At       time.Time              `json:"at"`
	Took     time.Duration          `json:"took"`
	Services []ServiceReport        `json:"services"`
	Counts   map[validate.State]int `json:"counts"`
}

type Monitor struct {
	opts Options
	log  logx.Logger

	mu       sync.Mutex
	cfg      Config
	c        *cron.Cron
	schedule Schedule

	sweepMu sync.Mutex
	known   map[string]struct{}
	alerted map[string]time.Time
}

func New(opts Options) (*Monitor, error) {
	if opts.Records == nil || opts.Manager == nil || opts.Validator == nil {
		return nil, errors.New("monitor: records, manager and validator are required")
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = DefaultSweepTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		opts:    opts,
		log:     opts.Log.With(logx.String("comp", "monitor")),
		cfg:     Config{AlertWindow: DefaultAlertWindow},
		known:   map[string]struct{}{},
		alerted: map[string]time.Time{},
	}, nil
}

// Sweep runs the runtime pass for every persisted service once. Per-service
// failures are recorded in the summary; only a failure to list the records
// or cancellation is returned.
func (m *Monitor) Sweep(ctx context.Context) (Summary, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	start := m.opts.Now()
	sum := Summary{At: start, Counts: map[validate.State]int{}}

	names, err := m.opts.Records.List()
	if err != nil {
		metrics.ObserveSweep(false, m.opts.Now().Sub(start))
		return sum, fmt.Errorf("list records: %w", err)
	}
	metrics.ManagedServices.Set(float64(len(names)))

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			metrics.ObserveSweep(false, m.opts.Now().Sub(start))
			return sum, ctx.Err()
		}
		seen[name] = struct{}{}
		rep := m.check(ctx, name)
		sum.Counts[rep.State]++
		sum.Services = append(sum.Services, rep)
	}
	for name := range m.known {
		if _, ok := seen[name]; !ok {
			metrics.ForgetService(name)
			delete(m.alerted, name)
		}
	}
	m.known = seen

	sum.Took = m.opts.Now().Sub(start)
	metrics.ObserveSweep(true, sum.Took)
	return sum, nil
}

func (m *Monitor) check(ctx context.Context, name string) ServiceReport {
	rep := ServiceReport{Name: name, State: validate.StateUnknown}
	res, err := m.opts.Validator.Runtime(ctx, m.opts.Manager, name)
	if err != nil {
		rep.Error = err.Error()
		metrics.SetServiceState(name, string(validate.StateUnknown))
		m.log.Warn("runtime check failed", logx.String("service", name), logx.Err(err))
		return rep
	}
	rep.State = res.State
	rep.Diagnoses = res.Diagnoses
	metrics.SetServiceState(name, string(res.State))
	metrics.ServiceDiagnoses.WithLabelValues(name).Set(float64(len(res.Diagnoses)))

	if res.State == validate.StateFailed {
		rep.Alerted = m.alert(ctx, name, res)
	} else {
		delete(m.alerted, name)
	}
	return rep
}

// alert logs a failed service unless an alert for it was raised within the
// alert window.
func (m *Monitor) alert(ctx context.Context, name string, res validate.RuntimeResult) bool {
	now := m.opts.Now()
	key := "monitor:failed:" + name
	if until, ok := m.suppressedUntil(ctx, key, name); ok && now.Before(until) {
		return false
	}

	codes := make([]string, 0, len(res.Diagnoses))
	for _, d := range res.Diagnoses {
		codes = append(codes, d.Code)
	}
	m.log.Warn("service failed",
		logx.String("service", name),
		logx.Strings("diagnoses", codes),
		logx.Strings("errors", res.Errors),
	)

	until := now.Add(m.alertWindow())
	m.alerted[name] = until
	if m.opts.Dedup != nil {
		if err := m.opts.Dedup.PutDedup(ctx, key, until); err != nil {
			m.log.Debug("dedup write failed", logx.String("key", key), logx.Err(err))
		}
	}
	return true
}

func (m *Monitor) suppressedUntil(ctx context.Context, key, name string) (time.Time, bool) {
	if m.opts.Dedup != nil {
		until, ok, err := m.opts.Dedup.GetDedup(ctx, key)
		if err == nil {
			return until, ok
		}
		m.log.Debug("dedup read failed", logx.String("key", key), logx.Err(err))
	}
	until, ok := m.alerted[name]
	return until, ok
}

func (m *Monitor) alertWindow() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.AlertWindow <= 0 {
		return DefaultAlertWindow
	}
	return m.cfg.AlertWindow
}

// Apply installs cfg, starting, rescheduling or stopping the sweep as
// needed. An invalid schedule leaves the running sweep untouched.
func (m *Monitor) Apply(ctx context.Context, cfg Config) error {
	var sched Schedule
	if cfg.Enabled {
		var err error
		if sched, err = ParseSchedule(cfg.Schedule); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.cfg = cfg
	running := m.c != nil
	same := running && m.schedule == sched
	m.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			m.Stop(ctx)
		}
		return nil
	case same:
		return nil
	case running:
		m.Stop(ctx)
	}
	return m.start(ctx, sched)
}

func (m *Monitor) start(ctx context.Context, sched Schedule) error {
	cs, err := sched.cronSchedule()
	if err != nil {
		return err
	}
	cl := cronLogger{log: m.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cs, cron.FuncJob(func() { m.runScheduled(ctx) }))

	m.mu.Lock()
	if m.c != nil {
		m.mu.Unlock()
		return nil
	}
	m.c = c
	m.schedule = sched
	m.mu.Unlock()

	c.Start()
	m.log.Info("monitor started", logx.String("schedule", sched.String()))
	return nil
}

// Running reports whether a sweep schedule is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c != nil
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.schedule = Schedule{}
	m.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		m.log.Warn("monitor stop timed out; sweep still running")
	}
	m.log.Info("monitor stopped")
}

func (m *Monitor) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, m.opts.SweepTimeout)
	defer cancel()
	sum, err := m.Sweep(sctx)
	if err != nil {
		m.log.Warn("sweep failed", logx.Err(err))
		return
	}
	m.log.Debug("sweep done",
		logx.Int("services", len(sum.Services)),
		logx.Int("failed", sum.Counts[validate.StateFailed]),
		logx.Duration("took", sum.Took),
	)
}

// cronLogger routes robfig/cron logging into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
