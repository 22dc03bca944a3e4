package validate

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"unitforge/pkg/systemdmanager"
)

// State is the classified run state of a unit.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateFailed   State = "failed"
	StateUnknown  State = "unknown"
)

// DefaultLogLines is the journal window read by Runtime when LogLines is unset.
const DefaultLogLines = 50

// ClassifyStatus maps `systemctl status`-style text to a State.
//
// Only the "Active:" line is consulted. "active (running)" is checked before
// the generic "active" prefix; an inactive or dead marker, or a "Stopped"
// line when no Active: line exists, yields StateInactive.
func ClassifyStatus(text string) State {
	if line, ok := activeLine(text); ok {
		l := strings.ToLower(line)
		switch {
		case strings.HasPrefix(l, "active (running)"):
			return StateActive
		case strings.HasPrefix(l, "inactive"), strings.HasPrefix(l, "dead"), strings.Contains(l, "(dead)"):
			return StateInactive
		case strings.HasPrefix(l, "failed"):
			return StateFailed
		case strings.HasPrefix(l, "active"):
			return StateActive
		}
		return StateUnknown
	}
	if strings.Contains(text, "Stopped") {
		return StateInactive
	}
	return StateUnknown
}

func activeLine(text string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "Active:"); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// Diagnosis is a known failure signature found in log text.
type Diagnosis struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type signature struct {
	diag     Diagnosis
	patterns []string
}

// signatures is matched case-insensitively, in order.
var signatures = []signature{
	{Diagnosis{"segfault", "segmentation fault detected"}, []string{"segmentation fault"}},
	{Diagnosis{"permission", "permission denied"}, []string{"permission denied"}},
	{Diagnosis{"start-failed", "service failed to start"}, []string{"failed to start"}},
	{Diagnosis{"out-of-memory", "out of memory"}, []string{"out of memory", "cannot allocate memory"}},
	{Diagnosis{"timeout", "timeout detected"}, []string{"timeout", "timed out"}},
	{Diagnosis{"core-dump", "process crashed (core dumped)"}, []string{"core dumped"}},
	{Diagnosis{"bind", "could not bind to address"}, []string{"failed to bind", "address already in use"}},
	{Diagnosis{"file-not-found", "file not found"}, []string{"file not found", "no such file or directory"}},
	{Diagnosis{"config", "configuration error"}, []string{"configuration error", "bad unit file setting"}},
}

// Diagnose returns every known failure signature present in logs, each at
// most once.
func Diagnose(logs string) []Diagnosis {
	l := strings.ToLower(logs)
	var out []Diagnosis
	for _, s := range signatures {
		for _, p := range s.patterns {
			if strings.Contains(l, p) {
				out = append(out, s.diag)
				break
			}
		}
	}
	return out
}

// RuntimeResult is the outcome of the runtime pass.
type RuntimeResult struct {
	Result
	Name      string      `json:"name"`
	State     State       `json:"state"`
	Diagnoses []Diagnosis `json:"diagnoses,omitempty"`
	Status    string      `json:"status,omitempty"`
	Logs      string      `json:"logs,omitempty"`
}

// Runtime reads status and recent logs for name from mgr and classifies them.
// A failed unit is an error; diagnoses are errors for a failed unit and
// warnings otherwise. Only a failure to query status is returned as error.
func (v *Validator) Runtime(ctx context.Context, mgr systemdmanager.Manager, name string) (RuntimeResult, error) {
	res := RuntimeResult{Name: name, State: StateUnknown}
	status, err := mgr.Status(ctx, name)
	if err != nil {
		return res, fmt.Errorf("status %s: %w", name, err)
	}
	res.Status = status
	res.State = ClassifyStatus(status)

	lines := v.LogLines
	if lines <= 0 {
		lines = DefaultLogLines
	}
	logs, lerr := mgr.Logs(ctx, name, lines)
	if lerr != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.warnf("could not read logs: %v", lerr)
	}
	res.Logs = logs
	res.Diagnoses = Diagnose(logs)

	switch res.State {
	case StateFailed:
		res.errorf("service %s is in failed state", name)
	case StateUnknown:
		res.warnf("could not determine the state of %s", name)
	}
	for _, d := range res.Diagnoses {
		if res.State == StateFailed {
			res.errorf("%s", d.Message)
		} else {
			res.warnf("%s", d.Message)
		}
	}
	res.Result = res.finish()
	return res, nil
}
