package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"unitforge/internal/config"
	"unitforge/internal/monitor"
	"unitforge/internal/runtime/supervisor"
	logx "unitforge/pkg/logx"
)

const monitorStopTimeout = 5 * time.Second

// restartSections need a new process to take effect.
var restartSections = []string{"paths", "backend", "audit"}

// NewMonitor builds a sweep monitor over the app's records, manager and audit
// store.
func (a *App) NewMonitor() (*monitor.Monitor, error) {
	return monitor.New(monitor.Options{
		Records:   a.records,
		Manager:   a.mgr,
		Validator: a.validator,
		Dedup:     a.audit,
		Log:       a.log,
	})
}

// RunMonitor sweeps every managed service once, then keeps sweeping on the
// configured schedule and serving metrics until ctx is done. Config file
// changes are applied live.
func (a *App) RunMonitor(ctx context.Context) error {
	mon, err := a.NewMonitor()
	if err != nil {
		return err
	}
	srv := monitor.NewMetricsServer(a.log)

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	runCtx := sup.Context()

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Monitor.Enabled {
			if _, err := monitor.ParseSchedule(cfg.Monitor.Schedule); err != nil {
				return fmt.Errorf("monitor.schedule: %w", err)
			}
		}
		if _, _, err := mapStorageConfig(cfg.Audit); err != nil {
			return err
		}
		return nil
	})

	if err := a.applyMonitor(runCtx, mon, srv, a.cfg); err != nil {
		sup.Cancel()
		return err
	}
	if !a.cfg.Monitor.Enabled {
		a.log.Info("monitor.enabled is false; running one sweep and waiting for config changes")
	}

	sup.Go0("sweep.initial", func(c context.Context) {
		sctx, cancel := context.WithTimeout(c, monitor.DefaultSweepTimeout)
		defer cancel()
		sum, err := mon.Sweep(sctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.log.Warn("initial sweep failed", logx.Err(err))
			}
			return
		}
		a.logSummary(sum)
	})

	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				if err := applyOverrides(newCfg, a.opts); err != nil {
					a.log.Warn("reloaded config rejected", logx.Err(err))
					continue
				}
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				for _, s := range sections {
					if slices.Contains(restartSections, s) {
						a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
					}
				}

				a.logs.Apply(loggingConfig(newCfg))
				if err := a.applyMonitor(c, mon, srv, newCfg); err != nil {
					a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("monitor running",
		logx.Bool("enabled", a.cfg.Monitor.Enabled),
		logx.String("schedule", a.cfg.Monitor.Schedule),
		logx.String("metrics", srv.Addr()),
	)
	<-runCtx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), monitorStopTimeout)
	defer cancel()
	mon.Stop(stopCtx)
	srv.Stop(stopCtx)
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("monitor stopped")
	return nil
}

func (a *App) applyMonitor(ctx context.Context, mon *monitor.Monitor, srv *monitor.MetricsServer, cfg *config.Config) error {
	err := mon.Apply(ctx, monitor.Config{
		Enabled:     cfg.Monitor.Enabled,
		Schedule:    cfg.Monitor.Schedule,
		AlertWindow: cfg.AlertWindow(),
	})
	if rerr := srv.Reconfigure(ctx, cfg.Monitor.MetricsAddr); rerr != nil {
		err = errors.Join(err, fmt.Errorf("monitor.metrics_addr: %w", rerr))
	}
	return err
}

func (a *App) logSummary(sum monitor.Summary) {
	fields := []logx.Field{
		logx.Int("services", len(sum.Services)),
		logx.Duration("took", sum.Took),
	}
	for state, n := range sum.Counts {
		fields = append(fields, logx.Int(string(state), n))
	}
	a.log.Info("sweep done", fields...)
}
