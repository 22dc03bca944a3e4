package systemdmanager

import (
	"context"
	"time"
)

// WithTimeout bounds every call on m by d. A non-positive d returns m as is.
// The result implements EnabledChecker and Closer, delegating to m when it
// does and returning ErrUnsupported (or nil for Close) otherwise.
func WithTimeout(m Manager, d time.Duration) Manager {
	if d <= 0 || m == nil {
		return m
	}
	return &timeoutManager{inner: m, d: d}
}

type timeoutManager struct {
	inner Manager
	d     time.Duration
}

var (
	_ EnabledChecker = (*timeoutManager)(nil)
	_ Closer         = (*timeoutManager)(nil)
)

func (t *timeoutManager) Status(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Status(ctx, name)
}

func (t *timeoutManager) Logs(ctx context.Context, name string, lines int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Logs(ctx, name, lines)
}

func (t *timeoutManager) Start(ctx context.Context, name string) error {
	return t.call(ctx, name, t.inner.Start)
}

func (t *timeoutManager) Stop(ctx context.Context, name string) error {
	return t.call(ctx, name, t.inner.Stop)
}

func (t *timeoutManager) Restart(ctx context.Context, name string) error {
	return t.call(ctx, name, t.inner.Restart)
}

func (t *timeoutManager) Enable(ctx context.Context, name string) error {
	return t.call(ctx, name, t.inner.Enable)
}

func (t *timeoutManager) Disable(ctx context.Context, name string) error {
	return t.call(ctx, name, t.inner.Disable)
}

func (t *timeoutManager) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Reload(ctx)
}

func (t *timeoutManager) IsEnabled(ctx context.Context, name string) (bool, error) {
	ec, ok := t.inner.(EnabledChecker)
	if !ok {
		return false, ErrUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return ec.IsEnabled(ctx, name)
}

func (t *timeoutManager) Close() error {
	if c, ok := t.inner.(Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *timeoutManager) call(ctx context.Context, name string, fn func(context.Context, string) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return fn(ctx, name)
}
