package validate

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"unitforge/internal/model"
)

// Limits enforced by the static pass.
const (
	MaxNameLength        = 255
	MaxCommandLength     = 1024
	MaxDirectoryLength   = 4096
	MaxDescriptionLength = 256
	MaxRestartDelay      = 300
	MaxStartLimitBurst   = 100
	MinNiceness          = -20
	MaxNiceness          = 19
	MaxCPUQuotaPercent   = 100
)

// DefaultUnitDir is where installed unit files live.
const DefaultUnitDir = "/etc/systemd/system"

var ErrInvalidName = errors.New("invalid service name")

var (
	nameRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	memoryRe = regexp.MustCompile(`^([0-9]+[KMGT]?|infinity)$`)
)

// interpreterSuffixes mark scripts run through an interpreter, which need not
// carry the execute bit themselves.
var interpreterSuffixes = []string{".sh", ".py", ".bash", ".js"}

// ValidateServiceName checks name syntax: a letter followed by letters,
// digits, '-' or '_', at most MaxNameLength characters.
func ValidateServiceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name is longer than %d characters", ErrInvalidName, MaxNameLength)
	case !nameRe.MatchString(name):
		return fmt.Errorf("%w: %q must start with a letter and contain only letters, digits, '-' and '_'", ErrInvalidName, name)
	}
	return nil
}

// Validator runs both validation passes.
type Validator struct {
	Env Env
	// UnitDir is checked for an existing unit of the same name.
	UnitDir string
	// LogLines bounds the journal window read by Runtime.
	LogLines int
}

func New(unitDir string) *Validator {
	if unitDir == "" {
		unitDir = DefaultUnitDir
	}
	return &Validator{Env: SystemEnv{}, UnitDir: unitDir}
}

func (v *Validator) env() Env {
	if v.Env == nil {
		return SystemEnv{}
	}
	return v.Env
}

// Static checks c against fixed rules and the host filesystem and account
// database. It never fails; problems are reported in the Result.
func (v *Validator) Static(c *model.ServiceConfiguration) Result {
	var r Result
	if c == nil {
		r.errorf("configuration is required")
		return r.finish()
	}
	env := v.env()

	v.checkName(&r, env, c.Name)
	checkControlChars(&r, c)
	if len(c.Unit.Description) > MaxDescriptionLength {
		r.warnf("description is longer than %d characters", MaxDescriptionLength)
	}
	checkCommand(&r, env, c.Service.ExecStart)
	checkWorkingDirectory(&r, env, c.Service.WorkingDirectory)
	checkAccounts(&r, env, c.Service.User, c.Service.Group)
	checkExecution(&r, c.Service)
	checkStartLimits(&r, c.Unit)

	return r.finish()
}

func (v *Validator) checkName(r *Result, env Env, name string) {
	if err := ValidateServiceName(name); err != nil {
		r.Errors = append(r.Errors, err.Error())
		return
	}
	if v.UnitDir == "" {
		return
	}
	if _, err := env.Stat(filepath.Join(v.UnitDir, model.UnitName(name))); err == nil {
		r.warnf("a unit named %q already exists and will be overwritten", model.UnitName(name))
	}
}

// controlChars would end a unit-file line early or truncate it.
const controlChars = "\r\n\x00"

// checkControlChars rejects CR, LF and NUL in every field that reaches the
// unit file, so no value can start a line or stanza of its own.
func checkControlChars(r *Result, c *model.ServiceConfiguration) {
	u, s, in := c.Unit, c.Service, c.Install
	scalars := []struct{ field, value string }{
		{"description", u.Description},
		{"user", s.User},
		{"group", s.Group},
		{"workingDirectory", s.WorkingDirectory},
		{"execStart", s.ExecStart},
		{"execStop", s.ExecStop},
		{"execReload", s.ExecReload},
		{"memoryLimit", s.MemoryLimit},
	}
	for _, f := range scalars {
		if strings.ContainsAny(f.value, controlChars) {
			r.errorf("%s must not contain line breaks or NUL characters", f.field)
		}
	}
	lists := []struct {
		field  string
		values []string
	}{
		{"documentation", u.Documentation},
		{"after", u.After},
		{"before", u.Before},
		{"requires", u.Requires},
		{"wants", u.Wants},
		{"wantedBy", in.WantedBy},
		{"requiredBy", in.RequiredBy},
		{"also", in.Also},
	}
	for _, f := range lists {
		for _, v := range f.values {
			if strings.ContainsAny(v, controlChars) {
				r.errorf("%s entry %q must not contain line breaks or NUL characters", f.field, v)
				break
			}
		}
	}
	keys := make([]string, 0, len(s.Environment))
	for k := range s.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.ContainsAny(k, controlChars) || strings.ContainsAny(s.Environment[k], controlChars) {
			r.errorf("environment variable %q must not contain line breaks or NUL characters", k)
		}
	}
}

func checkCommand(r *Result, env Env, command string) {
	if strings.TrimSpace(command) == "" {
		r.errorf("execStart is required")
		return
	}
	if len(command) > MaxCommandLength {
		r.errorf("execStart is longer than %d characters", MaxCommandLength)
	}
	exe := strings.Fields(command)[0]
	if !filepath.IsAbs(exe) {
		r.errorf("executable %q must be an absolute path", exe)
		return
	}
	fi, err := env.Stat(exe)
	if err != nil {
		r.errorf("executable %q does not exist", exe)
		return
	}
	if !fi.Mode().IsRegular() {
		r.errorf("executable %q is not a regular file", exe)
		return
	}
	if env.Access(exe, AccessExecute) != nil && !hasInterpreterSuffix(exe) {
		r.warnf("%q is not executable", exe)
	}
}

func hasInterpreterSuffix(path string) bool {
	for _, s := range interpreterSuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

func checkWorkingDirectory(r *Result, env Env, dir string) {
	if dir == "" {
		return
	}
	if len(dir) > MaxDirectoryLength {
		r.errorf("workingDirectory is longer than %d characters", MaxDirectoryLength)
		return
	}
	if !filepath.IsAbs(dir) {
		r.errorf("workingDirectory %q must be an absolute path", dir)
		return
	}
	fi, err := env.Stat(dir)
	if err != nil {
		r.errorf("workingDirectory %q does not exist", dir)
		return
	}
	if !fi.IsDir() {
		r.errorf("workingDirectory %q is not a directory", dir)
		return
	}
	if env.Access(dir, AccessRead) != nil {
		r.warnf("workingDirectory %q is not readable", dir)
	}
	if env.Access(dir, AccessWrite) != nil {
		r.warnf("workingDirectory %q is not writable", dir)
	}
	if env.Access(dir, AccessExecute) != nil {
		r.warnf("workingDirectory %q is not searchable", dir)
	}
}

func checkAccounts(r *Result, env Env, userName, groupName string) {
	if userName != "" {
		if err := env.LookupUser(userName); err != nil {
			r.errorf("user %q does not exist", userName)
		}
	}
	if groupName != "" {
		if err := env.LookupGroup(groupName); err != nil {
			r.errorf("group %q does not exist", groupName)
		}
	}
}

func checkExecution(r *Result, s model.ExecutionSection) {
	if !s.Type.Valid() {
		r.errorf("type %q is not one of %s", s.Type, joinValues(model.ServiceTypes))
	}
	if !s.Restart.Valid() {
		r.errorf("restartPolicy %q is not one of %s", s.Restart, joinValues(model.RestartPolicies))
	}
	switch {
	case s.RestartDelaySeconds < 0:
		r.errorf("restartDelaySeconds must not be negative")
	case s.RestartDelaySeconds > MaxRestartDelay:
		r.warnf("restartDelaySeconds above %d may delay recovery noticeably", MaxRestartDelay)
	}
	if s.CPUQuotaPercent < 0 || s.CPUQuotaPercent > MaxCPUQuotaPercent {
		r.errorf("cpuQuotaPercent must be between 0 and %d", MaxCPUQuotaPercent)
	}
	if s.Niceness < MinNiceness || s.Niceness > MaxNiceness {
		r.errorf("niceness must be between %d and %d", MinNiceness, MaxNiceness)
	}
	if s.MemoryLimit != "" && !memoryRe.MatchString(s.MemoryLimit) {
		r.errorf("memoryLimit %q must be a byte count with optional K, M, G or T suffix, or \"infinity\"", s.MemoryLimit)
	}
	if s.RemainAfterExit && s.Type.Valid() && !s.Type.SupportsRemainAfterExit() {
		r.warnf("remainAfterExit has no effect for type %q", s.Type)
	}
}

func checkStartLimits(r *Result, u model.IdentitySection) {
	switch {
	case u.StartLimitBurst < 0:
		r.errorf("startLimitBurst must not be negative")
	case u.StartLimitBurst == 0:
		r.warnf("startLimitBurst of 0 disables all restarts")
	case u.StartLimitBurst > MaxStartLimitBurst:
		r.warnf("startLimitBurst above %d may hide a crash loop", MaxStartLimitBurst)
	}
	if u.StartLimitIntervalSeconds < 0 {
		r.errorf("startLimitIntervalSeconds must not be negative")
	}
}

func joinValues[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
