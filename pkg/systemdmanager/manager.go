// Package systemdmanager talks to the host service manager.
//
// Two backends implement Manager: Systemctl shells out to systemctl and
// journalctl, DBus uses the systemd D-Bus API (linux only). Both render status
// in the `systemctl status` layout so callers can classify it the same way.
package systemdmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// Manager is the subset of service-manager operations the rest of the module
// needs. Names are service names without the ".service" suffix.
type Manager interface {
	// Status returns human-readable status text containing an "Active:" line
	// when the unit is known.
	Status(ctx context.Context, name string) (string, error)
	// Logs returns up to lines most recent journal lines for the unit.
	Logs(ctx context.Context, name string, lines int) (string, error)

	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error

	// Reload makes the manager re-read unit files.
	Reload(ctx context.Context) error
}

var (
	_ Manager        = (*Systemctl)(nil)
	_ Manager        = (*DBus)(nil)
	_ EnabledChecker = (*Systemctl)(nil)
	_ EnabledChecker = (*DBus)(nil)
)

// EnabledChecker is implemented by backends that can report whether a unit is
// enabled for boot.
type EnabledChecker interface {
	IsEnabled(ctx context.Context, name string) (bool, error)
}

// Closer is implemented by backends holding a connection.
type Closer interface {
	Close() error
}

// Backend names accepted by New.
const (
	BackendSystemctl = "systemctl"
	BackendDBus      = "dbus"
)

// New returns the backend named by backend. An empty name selects systemctl.
func New(ctx context.Context, backend string) (Manager, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSystemctl:
		return NewSystemctl(), nil
	case BackendDBus:
		d, err := NewDBus(ctx)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("systemdmanager: unknown backend %q", backend)
	}
}

// CommandError reports a manager command that exited non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", strings.Join(e.Args, " "), e.ExitCode, out)
}

// UnitName returns the unit file name for a service name.
func UnitName(name string) string {
	if strings.HasSuffix(name, ".service") {
		return name
	}
	return name + ".service"
}

// FormatActionResult renders a one-line summary of an action outcome.
func FormatActionResult(name, action string, err error) string {
	if err != nil {
		return fmt.Sprintf("%s %s: error: %v", action, name, err)
	}
	return fmt.Sprintf("%s %s: ok", action, name)
}
