package store

import (
	"strconv"
	"strings"
)

// Group keys of the record layout.
const (
	groupUnit    = "unit"
	groupService = "service"
	groupInstall = "install"
)

// Start-limit keys as they appeared under the service group before they moved
// to the unit group.
const (
	legacyStartLimitInterval = "startLimitInterval"
	legacyStartLimitBurst    = "startLimitBurst"
)

type rename struct{ from, to string }

// legacyKeys lists, per group, the names written by older releases and their
// current names. When several old names map to the same key the first one
// present wins.
var legacyKeys = map[string][]rename{
	groupUnit: {
		{"start_limit_burst", "startLimitBurst"},
		{"startLimitInterval", "startLimitIntervalSeconds"},
		{"start_limit_interval", "startLimitIntervalSeconds"},
	},
	groupService: {
		{"working_directory", "workingDirectory"},
		{"exec_start", "execStart"},
		{"exec_stop", "execStop"},
		{"exec_reload", "execReload"},
		{"restart", "restartPolicy"},
		{"restart_sec", "restartDelaySeconds"},
		{"nice", "niceness"},
		{"memory_limit", "memoryLimit"},
		{"cpu_quota", "cpuQuotaPercent"},
		{"remain_after_exit", "remainAfterExit"},
		{"start_limit_interval", legacyStartLimitInterval},
		{"start_limit_burst", legacyStartLimitBurst},
	},
	groupInstall: {
		{"wanted_by", "wantedBy"},
		{"required_by", "requiredBy"},
	},
}

// integerKeys are coerced from numeric strings, which older releases stored
// verbatim from prompt input.
var integerKeys = map[string][]string{
	groupUnit:    {"startLimitBurst", "startLimitIntervalSeconds"},
	groupService: {"restartDelaySeconds", "niceness", "cpuQuotaPercent"},
}

// Upgrade rewrites a decoded record in place into the current layout and
// reports whether anything changed. Running it on a current record is a no-op.
//
// Steps, in order:
//  1. rename legacy snake_case keys (a current key, if present, wins);
//  2. move startLimitInterval/startLimitBurst from the service group to the
//     unit group, overwriting the unit group's values;
//  3. split a string documentation value into a list;
//  4. coerce numeric strings in integer fields.
func Upgrade(rec map[string]any) bool {
	if rec == nil {
		return false
	}
	changed := false
	for group, renames := range legacyKeys {
		g, ok := rec[group].(map[string]any)
		if !ok {
			continue
		}
		for _, r := range renames {
			v, ok := g[r.from]
			if !ok {
				continue
			}
			delete(g, r.from)
			if _, exists := g[r.to]; !exists {
				g[r.to] = v
			}
			changed = true
		}
	}

	if moveStartLimits(rec) {
		changed = true
	}

	if u, ok := rec[groupUnit].(map[string]any); ok {
		if s, ok := u["documentation"].(string); ok {
			u["documentation"] = splitFields(s)
			changed = true
		}
	}

	for group, keys := range integerKeys {
		g, ok := rec[group].(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			s, ok := g[k].(string)
			if !ok {
				continue
			}
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				g[k] = n
				changed = true
			}
		}
	}
	return changed
}

func moveStartLimits(rec map[string]any) bool {
	svc, ok := rec[groupService].(map[string]any)
	if !ok {
		return false
	}
	interval, hasInterval := svc[legacyStartLimitInterval]
	burst, hasBurst := svc[legacyStartLimitBurst]
	if !hasInterval && !hasBurst {
		return false
	}

	unit, ok := rec[groupUnit].(map[string]any)
	if !ok {
		if rec[groupUnit] != nil {
			// Not an object; leave it for the decoder to reject.
			return false
		}
		unit = map[string]any{}
		rec[groupUnit] = unit
	}
	if hasInterval {
		unit["startLimitIntervalSeconds"] = interval
		delete(svc, legacyStartLimitInterval)
	}
	if hasBurst {
		unit["startLimitBurst"] = burst
		delete(svc, legacyStartLimitBurst)
	}
	return true
}

func splitFields(s string) []any {
	fields := strings.Fields(s)
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, f)
	}
	return out
}
