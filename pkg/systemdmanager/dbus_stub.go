//go:build !linux

package systemdmanager

import (
	"context"
	"time"
)

// DBus is unavailable outside linux; every method returns ErrUnsupported.
type DBus struct{}

func NewDBus(ctx context.Context) (*DBus, error) { return nil, ErrUnsupported }

func (d *DBus) SetEnabledCacheTTL(ttl time.Duration) {}

func (d *DBus) Close() error { return nil }

func (d *DBus) Status(ctx context.Context, name string) (string, error) {
	return "", ErrUnsupported
}

func (d *DBus) Logs(ctx context.Context, name string, lines int) (string, error) {
	return "", ErrUnsupported
}

func (d *DBus) Start(ctx context.Context, name string) error   { return ErrUnsupported }
func (d *DBus) Stop(ctx context.Context, name string) error    { return ErrUnsupported }
func (d *DBus) Restart(ctx context.Context, name string) error { return ErrUnsupported }
func (d *DBus) Enable(ctx context.Context, name string) error  { return ErrUnsupported }
func (d *DBus) Disable(ctx context.Context, name string) error { return ErrUnsupported }
func (d *DBus) Reload(ctx context.Context) error               { return ErrUnsupported }

func (d *DBus) IsEnabled(ctx context.Context, name string) (bool, error) {
	return false, ErrUnsupported
}
