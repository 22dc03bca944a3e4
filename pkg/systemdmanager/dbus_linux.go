//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// DBus drives the manager over the systemd D-Bus API. Journal access still
// goes through journalctl.
type DBus struct {
	mu      sync.RWMutex
	conn    *dbus.Conn
	journal *Systemctl
	enabled *enabledCache
}

// NewDBus connects to the system bus. If ctx is nil, context.Background() is used.
func NewDBus(ctx context.Context) (*DBus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &DBus{
		conn:    conn,
		journal: NewSystemctl(),
		enabled: newEnabledCache(),
	}, nil
}

// SetEnabledCacheTTL updates the IsEnabled cache TTL.
//
// Semantics:
//   - ttl == 0 : use default TTL
//   - ttl < 0  : disable caching (every call hits D-Bus)
func (d *DBus) SetEnabledCacheTTL(ttl time.Duration) { d.enabled.setTTL(ttl) }

// Close closes the systemd connection.
func (d *DBus) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}

func (d *DBus) connection() (*dbus.Conn, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.conn == nil {
		return nil, fmt.Errorf("systemd connection is closed")
	}
	return d.conn, nil
}

// runJob queues a unit job and waits for systemd to report its result.
func (d *DBus) runJob(ctx context.Context, action, name string,
	queue func(*dbus.Conn, context.Context, string, string, chan<- string) (int, error),
) error {
	conn, err := d.connection()
	if err != nil {
		return err
	}
	done := make(chan string, 1)
	if _, err := queue(conn, ctx, UnitName(name), "replace", done); err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, name, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("failed to %s %s: job %s", action, name, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DBus) Start(ctx context.Context, name string) error {
	return d.runJob(ctx, "start", name, (*dbus.Conn).StartUnitContext)
}

func (d *DBus) Stop(ctx context.Context, name string) error {
	return d.runJob(ctx, "stop", name, (*dbus.Conn).StopUnitContext)
}

func (d *DBus) Restart(ctx context.Context, name string) error {
	return d.runJob(ctx, "restart", name, (*dbus.Conn).RestartUnitContext)
}

func (d *DBus) Enable(ctx context.Context, name string) error {
	conn, err := d.connection()
	if err != nil {
		return err
	}
	defer d.enabled.invalidate(name)
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{UnitName(name)}, false, true); err != nil {
		return fmt.Errorf("failed to enable %s: %w", name, err)
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("enabled %s but failed to reload systemd daemon: %w", name, err)
	}
	return nil
}

func (d *DBus) Disable(ctx context.Context, name string) error {
	conn, err := d.connection()
	if err != nil {
		return err
	}
	defer d.enabled.invalidate(name)
	if _, err := conn.DisableUnitFilesContext(ctx, []string{UnitName(name)}, false); err != nil {
		return fmt.Errorf("failed to disable %s: %w", name, err)
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("disabled %s but failed to reload systemd daemon: %w", name, err)
	}
	return nil
}

func (d *DBus) Reload(ctx context.Context) error {
	conn, err := d.connection()
	if err != nil {
		return err
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("failed to reload systemd daemon: %w", err)
	}
	return nil
}

func (d *DBus) IsEnabled(ctx context.Context, name string) (bool, error) {
	now := time.Now()
	if v, ok := d.enabled.get(name, now); ok {
		return v, nil
	}
	conn, err := d.connection()
	if err != nil {
		return false, err
	}
	unit := UnitName(name)
	files, err := conn.ListUnitFilesByPatternsContext(ctx, nil, []string{unit})
	if err != nil {
		// Don't cache failures; context timeouts can be transient.
		return false, fmt.Errorf("failed to list unit files for %s: %w", name, err)
	}
	enabled := false
	for _, f := range files {
		if f.Path == unit || strings.HasSuffix(f.Path, "/"+unit) {
			enabled = f.Type == "enabled"
			break
		}
	}
	d.enabled.put(name, enabled, now)
	return enabled, nil
}

// Status renders unit and service properties in the `systemctl status` layout.
func (d *DBus) Status(ctx context.Context, name string) (string, error) {
	conn, err := d.connection()
	if err != nil {
		return "", err
	}
	unit := UnitName(name)
	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return RenderStatus(UnitSnapshot{Name: name, LoadState: "not-found"}, time.Now()), nil
		}
		return "", fmt.Errorf("failed to get status for %s: %w", name, err)
	}

	snap := UnitSnapshot{
		Name:          name,
		Description:   stringProp(props, "Description"),
		LoadState:     stringProp(props, "LoadState"),
		FragmentPath:  stringProp(props, "FragmentPath"),
		UnitFileState: stringProp(props, "UnitFileState"),
		ActiveState:   stringProp(props, "ActiveState"),
		SubState:      stringProp(props, "SubState"),
		ActiveSince:   timestampProp(props, "ActiveEnterTimestamp"),
		InactiveSince: timestampProp(props, "InactiveEnterTimestamp"),
	}
	if snap.LoadState == "loaded" {
		if svc, err := conn.GetUnitTypePropertiesContext(ctx, unit, "Service"); err == nil {
			if pid, ok := svc["MainPID"].(uint32); ok {
				snap.MainPID = pid
			}
			if mem, ok := svc["MemoryCurrent"].(uint64); ok && mem != math.MaxUint64 {
				snap.Memory = mem
			}
		}
		if snap.Memory == 0 && snap.MainPID > 0 {
			snap.Memory = memoryFromProc(snap.MainPID)
		}
	}
	return RenderStatus(snap, time.Now()), nil
}

func (d *DBus) Logs(ctx context.Context, name string, lines int) (string, error) {
	return d.journal.Logs(ctx, name, lines)
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func timestampProp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are in microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

// memoryFromProc reads memory usage from /proc/[pid]/status (VmRSS).
func memoryFromProc(pid uint32) uint64 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return kb * 1024 // kB → bytes
			}
		}
	}
	return 0
}
