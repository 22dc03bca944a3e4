package systemdmanager

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// systemctl status exit codes that still carry useful text.
const (
	exitStatusInactive = 3
	exitStatusNoUnit   = 4
)

// DefaultLogLines is used by Logs when lines <= 0.
const DefaultLogLines = 50

// Systemctl drives the manager through the systemctl and journalctl binaries.
// Commands run with exec.CommandContext, so cancelling ctx kills the child.
type Systemctl struct {
	// Systemctl and Journalctl are the binaries to run. Defaults are looked
	// up on PATH.
	Systemctl  string
	Journalctl string
	// Timeout bounds each command when > 0.
	Timeout time.Duration
}

func NewSystemctl() *Systemctl {
	return &Systemctl{Systemctl: "systemctl", Journalctl: "journalctl"}
}

func (s *Systemctl) run(ctx context.Context, bin string, args ...string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), nil
	}
	if ctx.Err() != nil {
		return string(out), ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return string(out), &CommandError{
			Args:     append([]string{bin}, args...),
			ExitCode: ee.ExitCode(),
			Output:   string(out),
		}
	}
	return string(out), err
}

func (s *Systemctl) systemctl(ctx context.Context, args ...string) (string, error) {
	bin := s.Systemctl
	if bin == "" {
		bin = "systemctl"
	}
	return s.run(ctx, bin, args...)
}

// Status runs `systemctl status`. Exit codes 3 (inactive) and 4 (no such
// unit) are not errors; the text is returned as is.
func (s *Systemctl) Status(ctx context.Context, name string) (string, error) {
	out, err := s.systemctl(ctx, "status", UnitName(name), "--no-pager")
	var ce *CommandError
	if errors.As(err, &ce) && (ce.ExitCode == exitStatusInactive || ce.ExitCode == exitStatusNoUnit) {
		return out, nil
	}
	return out, err
}

func (s *Systemctl) Logs(ctx context.Context, name string, lines int) (string, error) {
	if lines <= 0 {
		lines = DefaultLogLines
	}
	bin := s.Journalctl
	if bin == "" {
		bin = "journalctl"
	}
	return s.run(ctx, bin, "-u", UnitName(name), "-n", strconv.Itoa(lines), "--no-pager")
}

func (s *Systemctl) Start(ctx context.Context, name string) error {
	_, err := s.systemctl(ctx, "start", UnitName(name))
	return err
}

func (s *Systemctl) Stop(ctx context.Context, name string) error {
	_, err := s.systemctl(ctx, "stop", UnitName(name))
	return err
}

func (s *Systemctl) Restart(ctx context.Context, name string) error {
	_, err := s.systemctl(ctx, "restart", UnitName(name))
	return err
}

func (s *Systemctl) Enable(ctx context.Context, name string) error {
	_, err := s.systemctl(ctx, "enable", UnitName(name))
	return err
}

func (s *Systemctl) Disable(ctx context.Context, name string) error {
	_, err := s.systemctl(ctx, "disable", UnitName(name))
	return err
}

func (s *Systemctl) Reload(ctx context.Context) error {
	_, err := s.systemctl(ctx, "daemon-reload")
	return err
}

// IsEnabled runs `systemctl is-enabled`, which exits non-zero for anything
// but an enabled unit.
func (s *Systemctl) IsEnabled(ctx context.Context, name string) (bool, error) {
	out, err := s.systemctl(ctx, "is-enabled", UnitName(name))
	state := strings.TrimSpace(out)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return false, nil
		}
		return false, err
	}
	return state == "enabled", nil
}

