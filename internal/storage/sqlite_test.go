//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "unitforge/pkg/logx"
)

func TestSQLiteAuditAndDedup(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "unitforge.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i, target := range []string{"web", "db", "web"} {
		e := AuditEntry{Action: "start", Target: target, OK: i != 1, TookMS: int64(i)}
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	web, err := st.ListAudit(ctx, "web", 0)
	if err != nil || len(web) != 2 || web[1].TookMS != 2 || !web[1].OK {
		t.Fatalf("ListAudit(web) = %+v, %v", web, err)
	}
	last, err := st.ListAudit(ctx, "", 1)
	if err != nil || len(last) != 1 || last[0].Target != "web" {
		t.Fatalf("ListAudit(all, 1) = %+v, %v", last, err)
	}

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := st.PutDedup(ctx, "failed:web", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	_ = st.Close()

	// Reopening must not reapply schema steps.
	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, ok, err := st.GetDedup(ctx, "failed:web")
	if err != nil || !ok || !got.Equal(until) {
		t.Fatalf("GetDedup = %v, %v, %v", got, ok, err)
	}
}
