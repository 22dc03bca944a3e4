package systemdmanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeBin writes a shell script that prints its arguments and exits with code.
func fakeBin(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake %s: %v", name, err)
	}
	return path
}

func TestSystemctlStatusToleratesInactiveAndMissing(t *testing.T) {
	for _, code := range []string{"0", "3", "4"} {
		code := code
		t.Run("exit "+code, func(t *testing.T) {
			bin := fakeBin(t, "systemctl", `echo "args: $*"; echo "     Active: inactive (dead)"; exit `+code)
			s := &Systemctl{Systemctl: bin}
			out, err := s.Status(context.Background(), "demo")
			if err != nil {
				t.Fatalf("Status err = %v", err)
			}
			if !strings.Contains(out, "args: status demo.service --no-pager") {
				t.Fatalf("unexpected args in output: %q", out)
			}
			if !strings.Contains(out, "Active: inactive") {
				t.Fatalf("status text lost: %q", out)
			}
		})
	}
}

func TestSystemctlCommandError(t *testing.T) {
	bin := fakeBin(t, "systemctl", `echo "Failed to start $2: Unit not found." >&2; exit 5`)
	s := &Systemctl{Systemctl: bin}

	err := s.Start(context.Background(), "demo")
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CommandError, got %T %v", err, err)
	}
	if ce.ExitCode != 5 {
		t.Fatalf("exit code = %d, want 5", ce.ExitCode)
	}
	if !strings.Contains(ce.Output, "Failed to start demo.service") {
		t.Fatalf("output = %q", ce.Output)
	}
	if got := ce.Args[len(ce.Args)-2:]; got[0] != "start" || got[1] != "demo.service" {
		t.Fatalf("args = %v", ce.Args)
	}

	// Status treats other exit codes as failures too.
	if _, err := s.Status(context.Background(), "demo"); !errors.As(err, &ce) {
		t.Fatalf("Status with exit 5: %v", err)
	}
}

func TestSystemctlLogsArgs(t *testing.T) {
	bin := fakeBin(t, "journalctl", `echo "$*"`)
	s := &Systemctl{Journalctl: bin}

	out, err := s.Logs(context.Background(), "demo", 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if strings.TrimSpace(out) != "-u demo.service -n 50 --no-pager" {
		t.Fatalf("args = %q", out)
	}
}

func TestSystemctlIsEnabled(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{name: "enabled", body: `echo enabled`, want: true},
		{name: "static", body: `echo static`, want: false},
		{name: "disabled", body: `echo disabled; exit 1`, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := &Systemctl{Systemctl: fakeBin(t, "systemctl", tc.body)}
			got, err := s.IsEnabled(context.Background(), "demo")
			if err != nil {
				t.Fatalf("IsEnabled: %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsEnabled = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSystemctlCancelKillsChild(t *testing.T) {
	bin := fakeBin(t, "systemctl", `exec sleep 30`)
	s := &Systemctl{Systemctl: bin}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.Reload(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("child was not killed on cancel")
	}
}

func TestNewBackend(t *testing.T) {
	m, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
	if _, ok := m.(*Systemctl); !ok {
		t.Fatalf("default backend = %T", m)
	}
	if _, err := New(context.Background(), "upstart"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
