// Package follow polls the runtime validation pass for one service until
// stopped.
package follow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"unitforge/internal/metrics"
	"unitforge/internal/validate"
	logx "unitforge/pkg/logx"
	"unitforge/pkg/systemdmanager"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultBuffer   = 4
)

var ErrAlreadyStarted = errors.New("follow: already started")

// Report is one poll outcome. Err is set when status could not be read.
type Report struct {
	validate.RuntimeResult
	Seq int64     `json:"seq"`
	At  time.Time `json:"at"`
	Err error     `json:"-"`
}

type Config struct {
	Interval time.Duration
	// Buffer is the report queue depth. When full the oldest report is
	// dropped in favor of the newest.
	Buffer int
}

// Follower repeatedly runs the runtime pass for Name on its own goroutine.
type Follower struct {
	validator *validate.Validator
	mgr       systemdmanager.Manager
	name      string
	interval  time.Duration
	log       logx.Logger

	limiter *rate.Limiter
	reports chan Report
	seq     int64

	stopped atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func New(v *validate.Validator, mgr systemdmanager.Manager, name string, cfg Config, log logx.Logger) *Follower {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	return &Follower{
		validator: v,
		mgr:       mgr,
		name:      name,
		interval:  cfg.Interval,
		log:       log.With(logx.String("comp", "follow"), logx.String("service", name)),
		limiter:   rate.NewLimiter(rate.Every(cfg.Interval), 1),
		reports:   make(chan Report, cfg.Buffer),
	}
}

// Reports is closed once the polling goroutine has exited.
func (f *Follower) Reports() <-chan Report { return f.reports }

func (f *Follower) Interval() time.Duration { return f.interval }

// Start launches the polling goroutine. The first poll runs immediately.
func (f *Follower) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return ErrAlreadyStarted
	}
	if err := validate.ValidateServiceName(f.name); err != nil {
		return err
	}
	f.started = true
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer close(f.reports)
		f.loop(runCtx)
	}()
	f.log.Debug("follow started", logx.Duration("interval", f.interval))
	return nil
}

// Stop sets the stop flag, cancels any in-flight status or log query and
// waits for the polling goroutine to exit. Safe to call more than once.
func (f *Follower) Stop() {
	f.stopped.Store(true)
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

func (f *Follower) loop(ctx context.Context) {
	for !f.stopped.Load() {
		if err := f.limiter.Wait(ctx); err != nil {
			return
		}
		if f.stopped.Load() {
			return
		}
		res, err := f.validator.Runtime(ctx, f.mgr, f.name)
		if f.stopped.Load() || ctx.Err() != nil {
			return
		}
		f.seq++
		rep := Report{RuntimeResult: res, Seq: f.seq, At: time.Now(), Err: err}
		if err != nil {
			f.log.Warn("runtime check failed", logx.Err(err))
		} else {
			metrics.SetServiceState(f.name, string(res.State))
		}
		f.publish(rep)
	}
}

// publish never blocks: a full queue loses its oldest report.
func (f *Follower) publish(rep Report) {
	select {
	case f.reports <- rep:
		return
	default:
	}
	select {
	case <-f.reports:
	default:
	}
	select {
	case f.reports <- rep:
	default:
		f.log.Debug("report dropped (consumer slow)", logx.Int64("seq", rep.Seq))
	}
}
