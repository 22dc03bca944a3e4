package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	logx "unitforge/pkg/logx"
)

// Store is what lifecycle and monitor persist through.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns the newest entries for target (all targets when
	// empty), oldest first, at most limit when limit > 0.
	ListAudit(ctx context.Context, target string, limit int) ([]AuditEntry, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"bolt":    openBolt,
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Drivers lists the accepted driver names, "none" excluded.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open returns the store for cfg.Driver, or (nil, nil) when storage is off.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (want one of %s or none)", driver, strings.Join(Drivers(), ", "))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("driver", driver)))
}
