package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"unitforge/internal/config"
	"unitforge/internal/storage"
)

const defaultBusyTimeout = time.Second

// mapStorageConfig turns the audit section into a storage.Config. The bool
// reports whether auditing is enabled at all.
func mapStorageConfig(ac *config.AuditConfig) (storage.Config, bool, error) {
	if ac == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(ac.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	if !slices.Contains(storage.Drivers(), driver) {
		return storage.Config{}, false, fmt.Errorf("unknown audit.driver: %s", ac.Driver)
	}
	sc := storage.Config{Driver: driver, Path: strings.TrimSpace(ac.Path)}
	if sc.Path == "" {
		return storage.Config{}, false, fmt.Errorf("audit.path is required when audit.driver=%s", driver)
	}
	if driver == "file" {
		return sc, true, nil
	}
	// bolt waits this long for its file lock, sqlite for a busy database.
	busy, err := config.ParseDurationOrDefault("audit.busy_timeout", ac.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	sc.BusyTimeout = busy
	return sc, true, nil
}
