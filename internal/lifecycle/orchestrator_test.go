package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"unitforge/internal/model"
	"unitforge/internal/storage"
	"unitforge/internal/store"
	"unitforge/internal/validate"
	logx "unitforge/pkg/logx"
	"unitforge/pkg/systemdmanager"
)

// fakeManager mimics a service manager over a unit directory: Reload picks
// up *.service files, Start/Stop flip the state.
type fakeManager struct {
	mu      sync.Mutex
	unitDir string
	states  map[string]string
	enabled map[string]bool
	fail    map[string]error // "op" or "op:name" -> error
	// startState is the state a successful start leaves the unit in.
	startState string
	calls      []string
}

func newFakeManager(unitDir string) *fakeManager {
	return &fakeManager{
		unitDir:    unitDir,
		states:     map[string]string{},
		enabled:    map[string]bool{},
		fail:       map[string]error{},
		startState: "active (running)",
	}
}

func (m *fakeManager) record(op, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, strings.TrimSpace(op+" "+name))
	if err, ok := m.fail[op+":"+name]; ok {
		return err
	}
	return m.fail[op]
}

func (m *fakeManager) Status(ctx context.Context, name string) (string, error) {
	if err := m.record("status", name); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[name]
	if !ok {
		return fmt.Sprintf("Unit %s.service could not be found.\n", name), nil
	}
	return fmt.Sprintf("● %s.service\n     Loaded: loaded (%s)\n     Active: %s\n", name, filepath.Join(m.unitDir, name+".service"), st), nil
}

func (m *fakeManager) Logs(ctx context.Context, name string, lines int) (string, error) {
	if err := m.record("logs", name); err != nil {
		return "", err
	}
	return fmt.Sprintf("-- last %d lines of %s --\nmain process exited, code=exited, status=1/FAILURE\n", lines, name), nil
}

func (m *fakeManager) setState(name, state string) {
	m.mu.Lock()
	m.states[name] = state
	m.mu.Unlock()
}

func (m *fakeManager) Start(ctx context.Context, name string) error {
	if err := m.record("start", name); err != nil {
		return err
	}
	m.setState(name, m.startState)
	return nil
}

func (m *fakeManager) Stop(ctx context.Context, name string) error {
	if err := m.record("stop", name); err != nil {
		return err
	}
	m.setState(name, "inactive (dead)")
	return nil
}

func (m *fakeManager) Restart(ctx context.Context, name string) error {
	if err := m.record("restart", name); err != nil {
		return err
	}
	m.setState(name, m.startState)
	return nil
}

func (m *fakeManager) Enable(ctx context.Context, name string) error {
	if err := m.record("enable", name); err != nil {
		return err
	}
	m.mu.Lock()
	m.enabled[name] = true
	m.mu.Unlock()
	return nil
}

func (m *fakeManager) Disable(ctx context.Context, name string) error {
	if err := m.record("disable", name); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.enabled, name)
	m.mu.Unlock()
	return nil
}

func (m *fakeManager) IsEnabled(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[name], nil
}

func (m *fakeManager) Reload(ctx context.Context) error {
	if err := m.record("reload", ""); err != nil {
		return err
	}
	entries, _ := os.ReadDir(m.unitDir)
	m.mu.Lock()
	defer m.mu.Unlock()
	present := map[string]bool{}
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".service"); ok {
			present[name] = true
			if _, known := m.states[name]; !known {
				m.states[name] = "inactive (dead)"
			}
		}
	}
	for name := range m.states {
		if !present[name] {
			delete(m.states, name)
		}
	}
	return nil
}

func (m *fakeManager) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *memAudit) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) ListAudit(ctx context.Context, target string, limit int) ([]storage.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]storage.AuditEntry(nil), a.entries...), nil
}

func (a *memAudit) PutDedup(ctx context.Context, key string, until time.Time) error { return nil }

func (a *memAudit) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (a *memAudit) Close() error { return nil }

type fileInfo struct{ mode fs.FileMode }

func (f fileInfo) Name() string       { return "" }
func (f fileInfo) Size() int64        { return 0 }
func (f fileInfo) Mode() fs.FileMode  { return f.mode }
func (f fileInfo) ModTime() time.Time { return time.Time{} }
func (f fileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fileInfo) Sys() any           { return nil }

// hostEnv pretends every path under /usr/bin is an executable; everything
// else goes to the real filesystem.
type hostEnv struct{}

func (hostEnv) Stat(path string) (fs.FileInfo, error) {
	if strings.HasPrefix(path, "/usr/bin/") {
		return fileInfo{mode: 0o755}, nil
	}
	return os.Stat(path)
}

func (hostEnv) Access(path string, mode uint32) error { return nil }
func (hostEnv) LookupUser(name string) error          { return nil }
func (hostEnv) LookupGroup(name string) error         { return nil }

type fixture struct {
	orc     *Orchestrator
	mgr     *fakeManager
	audit   *memAudit
	unitDir string
	records *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	unitDir := filepath.Join(root, "units")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mgr := newFakeManager(unitDir)
	records := store.New(filepath.Join(root, "records"), logx.Nop())
	audit := &memAudit{}
	orc, err := New(Options{
		Manager:   mgr,
		Store:     records,
		Validator: &validate.Validator{Env: hostEnv{}, UnitDir: unitDir},
		Audit:     audit,
		UnitDir:   unitDir,
		LogLines:  10,
		Actor:     "tester",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{orc: orc, mgr: mgr, audit: audit, unitDir: unitDir, records: records}
}

func demoConfig() *model.ServiceConfiguration {
	c := model.New("demo")
	c.Service.ExecStart = "/usr/bin/true"
	return c
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without a manager")
	}
}

func TestInstallThenStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res := f.orc.Install(ctx, demoConfig(), InstallOptions{Enable: true})
	if !res.Success || res.Err != nil {
		t.Fatalf("Install = %+v", res)
	}
	data, err := os.ReadFile(filepath.Join(f.unitDir, "demo.service"))
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	want := "[Unit]\n\n[Service]\nType=simple\nExecStart=/usr/bin/true\n\n[Install]\nWantedBy=multi-user.target\n"
	if string(data) != want {
		t.Fatalf("unit file =\n%s\nwant\n%s", data, want)
	}
	if strings.Contains(string(data), "Description=") {
		t.Fatalf("unit must not carry an empty Description")
	}
	if !f.records.Exists("demo") {
		t.Fatalf("record was not persisted")
	}
	if !f.mgr.enabled["demo"] {
		t.Fatalf("unit was not enabled")
	}

	res = f.orc.Start(ctx, "demo")
	if !res.Success || res.NoOp || res.State != validate.StateActive {
		t.Fatalf("Start = %+v", res)
	}

	res = f.orc.Start(ctx, "demo")
	if !res.Success || !res.NoOp {
		t.Fatalf("second Start should be a no-op, got %+v", res)
	}
	starts := 0
	for _, c := range f.mgr.callLog() {
		if c == "start demo" {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("manager start calls = %d, want 1", starts)
	}

	if len(f.audit.entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(f.audit.entries))
	}
	if e := f.audit.entries[0]; e.Action != "install" || !e.OK || e.Actor != "tester" || e.MetaJSON == "" || e.ID == "" {
		t.Fatalf("install audit entry = %+v", e)
	}
	if last := f.audit.entries[2]; last.ID != res.ID || last.ID == f.audit.entries[1].ID {
		t.Fatalf("audit ids = %q, %q; result id %q", f.audit.entries[1].ID, last.ID, res.ID)
	}
}

func TestInstallRejectsInvalidWithoutSideEffects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cfg := demoConfig()
	cfg.Service.ExecStart = ""

	res := f.orc.Install(context.Background(), cfg, InstallOptions{})
	var ve *model.ValidationError
	if res.Success || !errors.As(res.Err, &ve) {
		t.Fatalf("Install = %+v, want ValidationError", res)
	}
	if res.Validation == nil || res.Validation.Valid {
		t.Fatalf("validation result missing: %+v", res.Validation)
	}
	if _, err := os.Stat(filepath.Join(f.unitDir, "demo.service")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("unit file must not be written, stat err = %v", err)
	}
	if f.records.Exists("demo") {
		t.Fatalf("record must not be written")
	}
	if calls := f.mgr.callLog(); len(calls) != 0 {
		t.Fatalf("manager must not be called, got %v", calls)
	}
}

func TestInstallReloadFailureAttachesLogs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mgr.fail["reload"] = &systemdmanager.CommandError{Args: []string{"systemctl", "daemon-reload"}, ExitCode: 1, Output: "Access denied"}

	res := f.orc.Install(context.Background(), demoConfig(), InstallOptions{})
	if res.Success {
		t.Fatalf("Install should fail: %+v", res)
	}
	if !errors.Is(res.Err, model.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", res.Err)
	}
	var ce *systemdmanager.CommandError
	if !errors.As(res.Err, &ce) || ce.ExitCode != 1 {
		t.Fatalf("manager error lost: %v", res.Err)
	}
	if res.Logs == "" {
		t.Fatalf("failure must carry the log window")
	}
}

func TestInstallWriteFailuresAttachDiagnostics(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		step string
		// block returns a path to turn into a non-empty directory.
		block func(f *fixture) string
	}{
		{name: "unit file", step: "write-unit", block: func(f *fixture) string { return filepath.Join(f.unitDir, "demo.service") }},
		{name: "record", step: "save-record", block: func(f *fixture) string { return f.records.Path("demo") }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			blocked := tc.block(f)
			if err := os.MkdirAll(filepath.Join(blocked, "keep"), 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}

			res := f.orc.Install(context.Background(), demoConfig(), InstallOptions{})
			if res.Success || res.Err == nil {
				t.Fatalf("Install should fail: %+v", res)
			}
			last := res.Steps[len(res.Steps)-1]
			if last.Name != tc.step || last.Status != StepFailed {
				t.Fatalf("last step = %+v, want %s failed", last, tc.step)
			}
			if res.Status == "" || res.Logs == "" {
				t.Fatalf("failure must carry status and logs: %+v", res)
			}
		})
	}
}

func TestStatusIncludesLogs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if res := f.orc.Install(ctx, demoConfig(), InstallOptions{}); !res.Success {
		t.Fatalf("Install: %+v", res)
	}

	st := f.orc.Status(ctx, "demo")
	if !st.Success || st.Logs == "" {
		t.Fatalf("Status = %+v, want logs", st)
	}
	if !strings.Contains(st.Logs, "last 10 lines") {
		t.Fatalf("log window ignores LogLines: %q", st.Logs)
	}

	f.mgr.fail["logs"] = errors.New("journal unavailable")
	if st := f.orc.Status(ctx, "demo"); !st.Success || st.Logs != "" {
		t.Fatalf("log failure must not fail Status: %+v", st)
	}
}

func TestInstallUnwritableUnitDir(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	f := newFixture(t)
	if err := os.Chmod(f.unitDir, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(f.unitDir, 0o755) })

	res := f.orc.Install(context.Background(), demoConfig(), InstallOptions{})
	if !errors.Is(res.Err, model.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", res.Err)
	}
}

func TestStopNoOpAndStartFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if res := f.orc.Install(ctx, demoConfig(), InstallOptions{}); !res.Success {
		t.Fatalf("Install: %+v", res)
	}

	res := f.orc.Stop(ctx, "demo")
	if !res.Success || !res.NoOp || res.State != validate.StateInactive {
		t.Fatalf("Stop on inactive = %+v", res)
	}

	f.mgr.fail["start"] = &systemdmanager.CommandError{Args: []string{"systemctl", "start", "demo.service"}, ExitCode: 1, Output: "Job failed"}
	res = f.orc.Start(ctx, "demo")
	var ce *systemdmanager.CommandError
	if res.Success || !errors.As(res.Err, &ce) {
		t.Fatalf("Start = %+v, want CommandError", res)
	}
	if !strings.Contains(res.Logs, "last 10 lines of demo") || res.Status == "" {
		t.Fatalf("failure must carry status and logs: %+v", res)
	}
}

func TestStartReportsFailedUnit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if res := f.orc.Install(ctx, demoConfig(), InstallOptions{}); !res.Success {
		t.Fatalf("Install: %+v", res)
	}
	f.mgr.startState = "failed (Result: exit-code)"

	res := f.orc.Start(ctx, "demo")
	if res.Success || !errors.Is(res.Err, ErrUnitFailed) || res.State != validate.StateFailed {
		t.Fatalf("Start = %+v", res)
	}
	if res.Logs == "" {
		t.Fatalf("expected log window")
	}
}

func TestControlUnknownUnit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, op := range []func(context.Context, string) OperationResult{f.orc.Start, f.orc.Stop, f.orc.Restart} {
		res := op(context.Background(), "ghost")
		if !errors.Is(res.Err, model.ErrNotFound) {
			t.Fatalf("%s ghost: err = %v, want ErrNotFound", res.Action, res.Err)
		}
	}
	res := f.orc.Start(context.Background(), "../etc/passwd")
	if !errors.Is(res.Err, model.ErrInvalidConfiguration) {
		t.Fatalf("bad name err = %v", res.Err)
	}
}

func TestEnableDisable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if res := f.orc.Install(ctx, demoConfig(), InstallOptions{}); !res.Success {
		t.Fatalf("Install: %+v", res)
	}

	res := f.orc.Disable(ctx, "demo")
	if !res.Success || !res.NoOp {
		t.Fatalf("Disable on disabled unit = %+v", res)
	}
	res = f.orc.Enable(ctx, "demo")
	if !res.Success || res.NoOp || res.Enabled == nil || !*res.Enabled {
		t.Fatalf("Enable = %+v", res)
	}
	st := f.orc.Status(ctx, "demo")
	if !st.Success || st.Enabled == nil || !*st.Enabled || st.State != validate.StateInactive {
		t.Fatalf("Status = %+v", st)
	}
	if st.RecordPath == "" || st.UnitPath == "" {
		t.Fatalf("Status should report paths: %+v", st)
	}
}

func TestDeleteUnknownSkipsEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.orc.Delete(context.Background(), "ghost")
	if !res.Success || res.Err != nil {
		t.Fatalf("Delete = %+v", res)
	}
	want := []string{"stop", "disable", "remove-unit", "remove-record", "reload"}
	if len(res.Steps) != len(want) {
		t.Fatalf("steps = %+v", res.Steps)
	}
	for i, s := range res.Steps {
		if s.Name != want[i] || s.Status != StepSkipped {
			t.Fatalf("step %d = %+v, want %s skipped", i, s, want[i])
		}
	}
	if calls := f.mgr.callLog(); len(calls) != 1 || calls[0] != "status ghost" {
		t.Fatalf("only the status lookup may reach the manager, got %v", calls)
	}
}

func TestDeleteWithoutUnitFileStillStops(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if res := f.orc.Install(ctx, demoConfig(), InstallOptions{Enable: true}); !res.Success {
		t.Fatalf("Install: %+v", res)
	}
	if res := f.orc.Start(ctx, "demo"); !res.Success {
		t.Fatalf("Start: %+v", res)
	}
	if err := os.Remove(filepath.Join(f.unitDir, "demo.service")); err != nil {
		t.Fatalf("remove unit: %v", err)
	}

	res := f.orc.Delete(ctx, "demo")
	if !res.Success {
		t.Fatalf("Delete = %+v", res)
	}
	got := map[string]StepStatus{}
	for _, s := range res.Steps {
		got[s.Name] = s.Status
	}
	want := map[string]StepStatus{
		"stop":          StepOK,
		"disable":       StepOK,
		"remove-unit":   StepSkipped,
		"remove-record": StepOK,
		"reload":        StepOK,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("step %s = %s, want %s (all: %+v)", k, got[k], v, res.Steps)
		}
	}
	calls := strings.Join(f.mgr.callLog(), ",")
	for _, c := range []string{"stop demo", "disable demo"} {
		if !strings.Contains(calls, c) {
			t.Fatalf("calls %s lack %q", calls, c)
		}
	}
}

func TestDeleteIsBestEffort(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if res := f.orc.Install(ctx, demoConfig(), InstallOptions{Enable: true}); !res.Success {
		t.Fatalf("Install: %+v", res)
	}
	f.mgr.fail["stop"] = errors.New("stop timed out")

	res := f.orc.Delete(ctx, "demo")
	if res.Success || res.Err == nil {
		t.Fatalf("Delete should report the stop failure: %+v", res)
	}
	got := map[string]StepStatus{}
	for _, s := range res.Steps {
		got[s.Name] = s.Status
	}
	want := map[string]StepStatus{
		"stop":          StepFailed,
		"disable":       StepOK,
		"remove-unit":   StepOK,
		"remove-record": StepOK,
		"reload":        StepOK,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("step %s = %s, want %s (all: %+v)", k, got[k], v, res.Steps)
		}
	}
	if _, err := os.Stat(filepath.Join(f.unitDir, "demo.service")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("unit file should be gone")
	}
	if f.records.Exists("demo") {
		t.Fatalf("record should be gone")
	}
	if res.Logs == "" {
		t.Fatalf("failed delete must carry the log window")
	}
}

func TestImport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	unit := "[Unit]\nDescription=Legacy\n\n[Service]\nType=forking\nExecStart=/usr/bin/legacy -d\nRestart=always\n\n[Install]\nWantedBy=multi-user.target\n"
	if err := os.WriteFile(filepath.Join(f.unitDir, "legacy.service"), []byte(unit), 0o644); err != nil {
		t.Fatalf("write unit: %v", err)
	}

	cfg, res := f.orc.Import(context.Background(), "legacy")
	if !res.Success {
		t.Fatalf("Import = %+v", res)
	}
	if cfg.Unit.Description != "Legacy" || cfg.Service.Type != model.TypeForking || cfg.Service.Restart != model.RestartAlways {
		t.Fatalf("imported config = %+v", cfg)
	}
	stored, err := f.records.Get("legacy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Service.ExecStart != "/usr/bin/legacy -d" {
		t.Fatalf("stored ExecStart = %q", stored.Service.ExecStart)
	}

	if _, res := f.orc.Import(context.Background(), "missing"); !errors.Is(res.Err, model.ErrNotFound) {
		t.Fatalf("Import(missing) err = %v", res.Err)
	}
}
