package systemdmanager

import (
	"fmt"
	"strings"
	"time"
)

// UnitSnapshot is the subset of unit properties rendered by RenderStatus.
type UnitSnapshot struct {
	Name          string
	Description   string
	LoadState     string
	FragmentPath  string
	UnitFileState string
	ActiveState   string
	SubState      string
	ActiveSince   time.Time
	InactiveSince time.Time
	MainPID       uint32
	Memory        uint64
}

// RenderStatus formats s like `systemctl status`. A unit that is not loaded
// renders as a single "could not be found" line without an Active: line.
func RenderStatus(s UnitSnapshot, now time.Time) string {
	unit := UnitName(s.Name)
	if s.LoadState == "" || s.LoadState == "not-found" {
		return fmt.Sprintf("Unit %s could not be found.\n", unit)
	}

	var b strings.Builder
	b.WriteString("● ")
	b.WriteString(unit)
	if s.Description != "" {
		b.WriteString(" - ")
		b.WriteString(s.Description)
	}
	b.WriteByte('\n')

	loaded := s.LoadState
	switch {
	case s.FragmentPath != "" && s.UnitFileState != "":
		loaded += fmt.Sprintf(" (%s; %s)", s.FragmentPath, s.UnitFileState)
	case s.FragmentPath != "":
		loaded += fmt.Sprintf(" (%s)", s.FragmentPath)
	}
	fmt.Fprintf(&b, "     Loaded: %s\n", loaded)

	active := s.ActiveState
	if active == "" {
		active = "unknown"
	}
	if s.SubState != "" {
		active += " (" + s.SubState + ")"
	}
	since := s.ActiveSince
	if s.ActiveState != "active" && !s.InactiveSince.IsZero() {
		since = s.InactiveSince
	}
	if !since.IsZero() {
		active += fmt.Sprintf(" since %s; %s ago", since.Format("Mon 2006-01-02 15:04:05 MST"), HumanDuration(now.Sub(since)))
	}
	fmt.Fprintf(&b, "     Active: %s\n", active)

	if s.MainPID > 0 {
		fmt.Fprintf(&b, "   Main PID: %d\n", s.MainPID)
	}
	if s.Memory > 0 {
		fmt.Fprintf(&b, "     Memory: %s\n", HumanBytes(s.Memory))
	}
	return b.String()
}

// HumanDuration renders d coarsely, e.g. "3min 4s", "2h 5min", "1 day 2h".
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	sec := int(d / time.Second)

	switch {
	case days > 0:
		unit := "days"
		if days == 1 {
			unit = "day"
		}
		return fmt.Sprintf("%d %s %dh", days, unit, h)
	case h > 0:
		return fmt.Sprintf("%dh %dmin", h, m)
	case m > 0:
		return fmt.Sprintf("%dmin %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

// HumanBytes renders n with a binary unit suffix, e.g. "12.5M".
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(n)/float64(div), "KMGTP"[exp])
}
