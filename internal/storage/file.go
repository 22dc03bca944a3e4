package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "unitforge/pkg/logx"
)

const (
	actionsDir  = "actions"
	alertsFile  = "alerts.json"
	actionExt   = ".jsonl"
	maxLineSize = 1 << 20
)

// fileStore keeps one action log per service under a directory:
//
//	<dir>/actions/<service>.jsonl  append-only JSON Lines, one entry per operation
//	<dir>/alerts.json              alert suppression windows, rewritten on change
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
	alerts map[string]int64 // unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("audit path is required for the file driver")
	}
	if err := os.MkdirAll(filepath.Join(dir, actionsDir), 0o700); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, dir: dir, alerts: map[string]int64{}}
	if err := s.loadAlerts(); err != nil {
		log.Warn("alert state unreadable; starting empty", logx.String("path", s.alertsPath()), logx.Err(err))
	}
	return s, nil
}

func (s *fileStore) alertsPath() string { return filepath.Join(s.dir, alertsFile) }

func (s *fileStore) actionPath(target string) (string, error) {
	if target == "" || target != filepath.Base(target) || strings.HasPrefix(target, ".") {
		return "", fmt.Errorf("audit target %q is not a service name", target)
	}
	return filepath.Join(s.dir, actionsDir, target+actionExt), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.actionPath(e.Target)
	if err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) ListAudit(ctx context.Context, target string, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}

	var paths []string
	if target != "" {
		p, err := s.actionPath(target)
		if err != nil {
			return nil, err
		}
		paths = []string{p}
	} else {
		matches, err := filepath.Glob(filepath.Join(s.dir, actionsDir, "*"+actionExt))
		if err != nil {
			return nil, err
		}
		paths = matches
	}

	var out []AuditEntry
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := readActions(p, s.log)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	if len(paths) > 1 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// readActions decodes one action log. Undecodable lines are skipped.
func readActions(path string, log logx.Logger) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for n := 1; sc.Scan(); n++ {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			log.Debug("skipping bad audit line", logx.String("path", path), logx.Int("line", n))
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.alerts[key] = until.UnixMilli()
	pruneExpired(s.alerts, time.Now())
	return s.saveAlertsLocked()
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrDisabled
	}
	ms, ok := s.alerts[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) loadAlerts() error {
	b, err := os.ReadFile(s.alertsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &s.alerts); err != nil {
		s.alerts = map[string]int64{}
		return err
	}
	pruneExpired(s.alerts, time.Now())
	return nil
}

// saveAlertsLocked replaces alerts.json through a temp file and rename.
func (s *fileStore) saveAlertsLocked() error {
	b, err := json.Marshal(s.alerts)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".alerts-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.alertsPath())
}

func pruneExpired(m map[string]int64, now time.Time) {
	cutoff := now.UnixMilli()
	for k, v := range m {
		if v < cutoff {
			delete(m, k)
		}
	}
}
