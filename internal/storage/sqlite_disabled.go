//go:build !sqlite

package storage

import (
	"errors"

	logx "unitforge/pkg/logx"
)

var errNoSQLite = errors.New("sqlite driver not compiled in; rebuild with -tags sqlite")

func openSQLite(Config, logx.Logger) (Store, error) { return nil, errNoSQLite }
