package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	logx "unitforge/pkg/logx"
)

var (
	bucketOperations = []byte("operations") // one nested bucket per service
	bucketAlerts     = []byte("alert_windows")
)

type boltStore struct {
	db  *bolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("audit path is required for the bolt driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketOperations, bucketAlerts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Target) == "" {
		return errors.New("audit target is empty")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketOperations).CreateBucketIfNotExists([]byte(e.Target))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(u64(seq), data)
	})
}

func (s *boltStore) ListAudit(ctx context.Context, target string, limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.view(func(tx *bolt.Tx) error {
		ops := tx.Bucket(bucketOperations)
		if target != "" {
			b := ops.Bucket([]byte(target))
			if b == nil {
				return nil
			}
			var err error
			out, err = newest(b, limit, s.log)
			return err
		}
		return ops.ForEachBucket(func(name []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries, err := newest(ops.Bucket(name), limit, s.log)
			out = append(out, entries...)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if target == "" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
		if limit > 0 && len(out) > limit {
			out = out[len(out)-limit:]
		}
	}
	return out, nil
}

// newest walks b backwards and returns up to limit entries, oldest first.
func newest(b *bolt.Bucket, limit int, log logx.Logger) ([]AuditEntry, error) {
	var rev []AuditEntry
	c := b.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		var e AuditEntry
		if err := json.Unmarshal(v, &e); err != nil {
			log.Debug("skipping bad audit record", logx.Int64("seq", int64(binary.BigEndian.Uint64(k))))
			continue
		}
		rev = append(rev, e)
		if limit > 0 && len(rev) == limit {
			break
		}
	}
	out := make([]AuditEntry, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out, nil
}

func (s *boltStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		var expired [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if len(v) == 8 && int64(binary.BigEndian.Uint64(v)) < now {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return b.Put([]byte(key), u64(uint64(until.UnixMilli())))
	})
}

func (s *boltStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var (
		until time.Time
		ok    bool
	)
	err := s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAlerts).Get([]byte(strings.TrimSpace(key)))
		if len(v) == 8 {
			until, ok = time.UnixMilli(int64(binary.BigEndian.Uint64(v))), true
		}
		return nil
	})
	return until, ok, err
}

func (s *boltStore) update(fn func(*bolt.Tx) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrDisabled
	}
	return err
}

func (s *boltStore) view(fn func(*bolt.Tx) error) error {
	err := s.db.View(fn)
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrDisabled
	}
	return err
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
