//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "unitforge/pkg/logx"
)

// schema holds one entry per user_version step. Append only.
var schema = []string{
	`CREATE TABLE operations (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ms    INTEGER NOT NULL,
		service  TEXT    NOT NULL,
		action   TEXT    NOT NULL,
		actor    TEXT,
		ok       INTEGER NOT NULL,
		noop     INTEGER NOT NULL DEFAULT 0,
		state    TEXT,
		error    TEXT,
		took_ms  INTEGER NOT NULL DEFAULT 0,
		meta     TEXT
	);
	CREATE INDEX operations_service ON operations(service, id);`,
	`CREATE TABLE alert_windows (
		key      TEXT PRIMARY KEY,
		until_ms INTEGER NOT NULL
	);`,
	`ALTER TABLE operations ADD COLUMN op_id TEXT;`,
}

const pruneEvery = 256

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	puts atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("audit path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return st, nil
}

// migrate applies the schema steps past the database's user_version, each
// in its own transaction.
func (s *sqliteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > len(schema) {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, len(schema))
	}
	for i := version; i < len(schema); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, schema[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Info("sqlite schema upgraded", logx.Int("version", i+1))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations(op_id, at_ms, service, action, actor, ok, noop, state, error, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		optional(e.ID), e.At.UnixMilli(), e.Target, e.Action, optional(e.Actor),
		flag(e.OK), flag(e.NoOp), optional(e.State), optional(e.Error), e.TookMS, optional(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, target string, limit int) ([]AuditEntry, error) {
	if s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT op_id, at_ms, service, action, actor, ok, noop, state, error, took_ms, meta FROM (
		   SELECT * FROM operations WHERE (? = '' OR service = ?) ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`,
		target, target, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                         AuditEntry
			atMS                      int64
			id, actor, state, errText, mj sql.NullString
			ok, noop                  int
		)
		if err := rows.Scan(&id, &atMS, &e.Target, &e.Action, &actor, &ok, &noop, &state, &errText, &e.TookMS, &mj); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(atMS)
		e.OK, e.NoOp = ok != 0, noop != 0
		e.ID = id.String
		e.Actor, e.State, e.Error, e.MetaJSON = actor.String, state.String, errText.String, mj.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s.db == nil {
		return ErrDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_windows(key, until_ms) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until_ms = excluded.until_ms`,
		key, until.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if s.puts.Add(1)%pruneEvery == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM alert_windows WHERE until_ms < ?`, time.Now().UnixMilli()); err != nil {
			s.log.Debug("alert window prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until_ms FROM alert_windows WHERE key = ?`, strings.TrimSpace(key)).Scan(&ms)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// optional stores blank strings as NULL.
func optional(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
