package unitfile

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"

	"unitforge/internal/model"
)

// Parse reads installed unit-file text back into a configuration named name.
//
// Only the keys Compile writes are understood (plus the legacy
// StartLimitInterval and MemoryLimit spellings); everything else is ignored.
// Keys absent from the file keep the model default, except the [Install]
// lists, which start empty.
func Parse(name string, r io.Reader) (*model.ServiceConfiguration, error) {
	opts, err := unit.Deserialize(r)
	if err != nil {
		return nil, model.Corrupt(model.UnitName(name), err)
	}

	c := model.New(name)
	c.Install.WantedBy = nil

	for _, o := range opts {
		if err := apply(c, o); err != nil {
			return nil, model.Corrupt(model.UnitName(name), err)
		}
	}
	return c, nil
}

func apply(c *model.ServiceConfiguration, o *unit.UnitOption) error {
	v := strings.TrimSpace(o.Value)
	switch o.Section {
	case sectionUnit:
		return applyUnit(&c.Unit, o.Name, v)
	case sectionService:
		return applyService(&c.Service, o.Name, v)
	case sectionInstall:
		switch o.Name {
		case "WantedBy":
			c.Install.WantedBy = append(c.Install.WantedBy, strings.Fields(v)...)
		case "RequiredBy":
			c.Install.RequiredBy = append(c.Install.RequiredBy, strings.Fields(v)...)
		case "Also":
			c.Install.Also = append(c.Install.Also, strings.Fields(v)...)
		}
	}
	return nil
}

func applyUnit(u *model.IdentitySection, key, v string) error {
	var err error
	switch key {
	case "Description":
		u.Description = v
	case "Documentation":
		u.Documentation = append(u.Documentation, strings.Fields(v)...)
	case "After":
		u.After = append(u.After, strings.Fields(v)...)
	case "Before":
		u.Before = append(u.Before, strings.Fields(v)...)
	case "Requires":
		u.Requires = append(u.Requires, strings.Fields(v)...)
	case "Wants":
		u.Wants = append(u.Wants, strings.Fields(v)...)
	case "StartLimitBurst":
		u.StartLimitBurst, err = atoi(key, v)
	case "StartLimitIntervalSec", "StartLimitInterval":
		u.StartLimitIntervalSeconds, err = seconds(key, v)
	}
	return err
}

func applyService(s *model.ExecutionSection, key, v string) error {
	var err error
	switch key {
	case "Type":
		s.Type = model.ServiceType(v)
	case "User":
		s.User = v
	case "Group":
		s.Group = v
	case "WorkingDirectory":
		s.WorkingDirectory = v
	case "Environment":
		for _, kv := range splitAssignments(v) {
			k, val, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("Environment: malformed assignment %q", kv)
			}
			if s.Environment == nil {
				s.Environment = map[string]string{}
			}
			s.Environment[k] = val
		}
	case "ExecStart":
		s.ExecStart = v
	case "ExecStop":
		s.ExecStop = v
	case "ExecReload":
		s.ExecReload = v
	case "Restart":
		s.Restart = model.RestartPolicy(v)
	case "RestartSec":
		s.RestartDelaySeconds, err = seconds(key, v)
	case "Nice":
		s.Niceness, err = atoi(key, v)
	case "MemoryMax", "MemoryLimit":
		s.MemoryLimit = v
	case "CPUQuota":
		s.CPUQuotaPercent, err = atoi(key, strings.TrimSuffix(v, "%"))
	case "RemainAfterExit":
		s.RemainAfterExit, err = parseBool(key, v)
	}
	return err
}

func atoi(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

// seconds accepts a bare integer or an integer with an "s" suffix.
func seconds(key, v string) (int, error) {
	return atoi(key, strings.TrimSuffix(v, "s"))
}

func parseBool(key, v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", key, v)
}

// splitAssignments splits an Environment= value into its assignments,
// honoring double quotes and backslash escapes inside them.
func splitAssignments(v string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		escaped bool
		started bool
	)
	flush := func() {
		if started {
			out = append(out, cur.String())
		}
		cur.Reset()
		started = false
	}
	for _, r := range v {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
			started = true
		case !quoted && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	flush()
	return out
}
