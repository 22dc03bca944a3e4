package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	body := `
unit_dir: /tmp/units
records_dir: /tmp/records
backend: DBus
command_timeout: 10s
logging:
  level: debug
  console: false
audit:
  driver: sqlite
  path: /tmp/audit.db
  busy_timeout: 2s
follow:
  interval: 500ms
  log_lines: 20
monitor:
  enabled: true
  schedule: "*/5 * * * *"
  metrics_addr: 127.0.0.1:9464
`
	cfg, err := Decode("unitforge.yaml", []byte(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.UnitDir != "/tmp/units" || cfg.RecordsDir != "/tmp/records" {
		t.Fatalf("paths: got %q %q", cfg.UnitDir, cfg.RecordsDir)
	}
	if cfg.Backend != "dbus" {
		t.Fatalf("backend: got %q want dbus", cfg.Backend)
	}
	if got := cfg.CommandTimeoutOrDefault(); got != 10*time.Second {
		t.Fatalf("command timeout: got %v", got)
	}
	if got := cfg.FollowInterval(); got != 500*time.Millisecond {
		t.Fatalf("follow interval: got %v", got)
	}
	if cfg.Follow.LogLines != 20 {
		t.Fatalf("log lines: got %d want 20", cfg.Follow.LogLines)
	}
	if cfg.Audit == nil || cfg.Audit.Driver != "sqlite" || cfg.Audit.BusyTimeout != "2s" {
		t.Fatalf("audit: got %+v", cfg.Audit)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.Schedule != "*/5 * * * *" || cfg.Monitor.MetricsAddr != "127.0.0.1:9464" {
		t.Fatalf("monitor: got %+v", cfg.Monitor)
	}
	if got := cfg.AlertWindow(); got != DefaultAlertWindow {
		t.Fatalf("alert window: got %v want %v", got, DefaultAlertWindow)
	}
}

func TestDecodeJSONDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("unitforge.json", []byte(`{"records_dir": "/srv/records"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.UnitDir != DefaultUnitDir {
		t.Fatalf("unit dir: got %q want %q", cfg.UnitDir, DefaultUnitDir)
	}
	if cfg.Backend != DefaultBackend {
		t.Fatalf("backend: got %q", cfg.Backend)
	}
	if cfg.Follow.LogLines != DefaultFollowLogLines {
		t.Fatalf("log lines: got %d", cfg.Follow.LogLines)
	}
	if cfg.Monitor.Schedule != DefaultMonitorSchedule {
		t.Fatalf("schedule: got %q", cfg.Monitor.Schedule)
	}
	if got := cfg.CommandTimeoutOrDefault(); got != DefaultCommandTimeout {
		t.Fatalf("command timeout: got %v", got)
	}
	if got := cfg.FollowInterval(); got != DefaultFollowInterval {
		t.Fatalf("follow interval: got %v", got)
	}
	if cfg.Audit != nil {
		t.Fatalf("audit: got %+v want nil", cfg.Audit)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{"unknown field", "c.json", `{"webhook": {}}`, "unknown field"},
		{"unknown nested field", "c.yaml", "monitor:\n  interval: 5s\n", "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"bad backend", "c.json", `{"backend": "upstart"}`, "backend"},
		{"bad duration", "c.json", `{"command_timeout": "soon"}`, "command_timeout"},
		{"negative duration", "c.json", `{"follow": {"interval": "-1s"}}`, "follow.interval"},
		{"bad audit driver", "c.json", `{"audit": {"driver": "postgres"}}`, "audit.driver"},
		{"bad yaml", "c.yml", "unit_dir: [\n", "yaml"},
	}
	for _, tc := range cases {
		_, err := Decode(tc.path, []byte(tc.body))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UnitDir != DefaultUnitDir || cfg.Audit == nil || cfg.Audit.Driver != "file" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit the config")
	}
}

func TestLoadInvalidFileFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.json")
	writeFile(t, path, `{"backend": 1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected error for wrong field type")
	}
}

func TestNormalizeExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory")
	}
	cfg := &Config{RecordsDir: "~/svc", Audit: &AuditConfig{Driver: "file", Path: "~/audit"}}
	cfg.Normalize()
	if cfg.RecordsDir != filepath.Join(home, "svc") {
		t.Fatalf("records dir: got %q", cfg.RecordsDir)
	}
	if cfg.Audit.Path != filepath.Join(home, "audit") {
		t.Fatalf("audit path: got %q", cfg.Audit.Path)
	}
}

func TestPublishDropsOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.yaml")
	ch := m.Subscribe(1)
	first := &Config{Backend: "systemctl"}
	second := &Config{Backend: "dbus"}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("got %+v want newest config", got)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
	m.publish(first)
}

func TestReloadSkipsUnchangedAndRejected(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.json")
	writeFile(t, path, `{"unit_dir": "/a"}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()
	if m.reload(ctx) {
		t.Fatalf("unchanged content must not publish")
	}

	writeFile(t, path, `{"unit_dir": "/b"}`)
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return errors.New("no") })
	if m.reload(ctx) {
		t.Fatalf("rejected config must not publish")
	}
	if m.Get().UnitDir != "/a" {
		t.Fatalf("rejected config was committed")
	}

	m.SetValidator(nil)
	if !m.reload(ctx) {
		t.Fatalf("changed config should publish")
	}
	if m.Get().UnitDir != "/b" {
		t.Fatalf("got %q want /b", m.Get().UnitDir)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unitforge.yaml")
	writeFile(t, path, "monitor:\n  enabled: false\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if !cfg.Monitor.Enabled {
				t.Fatalf("published stale config: %+v", cfg.Monitor)
			}
			return
		case <-tick.C:
			writeFile(t, path, "monitor:\n  enabled: true\n")
		case <-deadline:
			t.Fatalf("no config published after file change")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Backend: "systemctl", Monitor: MonitorConfig{Schedule: "@every 1m"}}
	newCfg := &Config{Backend: "dbus", Monitor: MonitorConfig{Schedule: "@every 5m"}, Audit: &AuditConfig{Driver: "file"}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"audit", "backend", "monitor"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed: got %v want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if changed, _ := SummarizeConfigChange(oldCfg, oldCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}
