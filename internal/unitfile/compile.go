package unitfile

import (
	"sort"
	"strconv"
	"strings"

	"unitforge/internal/model"
)

// MultiplexerMarker identifies an ExecStart that already launches the command
// inside a detached terminal multiplexer session; such commands are emitted
// verbatim.
const MultiplexerMarker = "screen -dmS"

const (
	sectionUnit    = "Unit"
	sectionService = "Service"
	sectionInstall = "Install"
)

// Compile renders c as unit-file text: [Unit], [Service] and [Install] in that
// order. Fields still at their model default produce no line, leaving the
// service manager's own default in effect. Type= is always written.
//
// Compile never touches the filesystem; the same input always yields the same
// bytes.
func Compile(c *model.ServiceConfiguration) string {
	var b strings.Builder

	u := c.Unit
	b.WriteString("[" + sectionUnit + "]\n")
	line(&b, "Description", u.Description)
	line(&b, "Documentation", joinFields(u.Documentation))
	repeated(&b, "After", u.After)
	repeated(&b, "Before", u.Before)
	repeated(&b, "Requires", u.Requires)
	repeated(&b, "Wants", u.Wants)
	if u.StartLimitBurst != model.DefaultStartLimitBurst {
		line(&b, "StartLimitBurst", strconv.Itoa(u.StartLimitBurst))
	}
	if u.StartLimitIntervalSeconds != model.DefaultStartLimitIntervalSeconds {
		line(&b, "StartLimitIntervalSec", strconv.Itoa(u.StartLimitIntervalSeconds))
	}

	s := c.Service
	b.WriteString("\n[" + sectionService + "]\n")
	line(&b, "Type", string(s.Type))
	line(&b, "User", s.User)
	line(&b, "Group", s.Group)
	line(&b, "WorkingDirectory", s.WorkingDirectory)
	for _, kv := range environment(s.Environment) {
		line(&b, "Environment", kv)
	}
	line(&b, "ExecStart", ExecStartLine(s))
	line(&b, "ExecStop", s.ExecStop)
	line(&b, "ExecReload", s.ExecReload)
	if s.Restart != model.RestartNo {
		line(&b, "Restart", string(s.Restart))
	}
	if s.RestartDelaySeconds != 0 {
		line(&b, "RestartSec", strconv.Itoa(s.RestartDelaySeconds))
	}
	if s.Niceness != 0 {
		line(&b, "Nice", strconv.Itoa(s.Niceness))
	}
	line(&b, "MemoryMax", s.MemoryLimit)
	if s.CPUQuotaPercent != 0 {
		line(&b, "CPUQuota", strconv.Itoa(s.CPUQuotaPercent)+"%")
	}
	if s.RemainAfterExit {
		line(&b, "RemainAfterExit", yesNo(s.RemainAfterExit))
	}

	in := c.Install
	b.WriteString("\n[" + sectionInstall + "]\n")
	line(&b, "WantedBy", joinFields(in.WantedBy))
	line(&b, "RequiredBy", joinFields(in.RequiredBy))
	line(&b, "Also", joinFields(in.Also))

	return b.String()
}

// ExecStartLine resolves the command that Compile writes for ExecStart.
//
// Multiplexer invocations pass through untouched. A relative command is
// prefixed with WorkingDirectory when one is set, so callers may store a bare
// file name picked from that directory.
func ExecStartLine(s model.ExecutionSection) string {
	cmd := strings.TrimSpace(s.ExecStart)
	if cmd == "" || strings.Contains(cmd, MultiplexerMarker) {
		return cmd
	}
	if s.WorkingDirectory == "" || strings.HasPrefix(cmd, "/") {
		return cmd
	}
	cmd = strings.TrimPrefix(cmd, "./")
	return strings.TrimRight(s.WorkingDirectory, "/") + "/" + cmd
}

// lineBreaks keeps every value on its own line: CR and LF are written as C
// escapes and NUL is dropped.
var lineBreaks = strings.NewReplacer("\r", `\r`, "\n", `\n`, "\x00", "")

func line(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(lineBreaks.Replace(value))
	b.WriteByte('\n')
}

func repeated(b *strings.Builder, key string, values []string) {
	for _, v := range values {
		line(b, key, strings.TrimSpace(v))
	}
}

func joinFields(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, " ")
}

// environment returns KEY=value assignments sorted by key.
func environment(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, quoteAssignment(k+"="+env[k]))
	}
	return out
}

func quoteAssignment(kv string) string {
	if !strings.ContainsAny(kv, " \t\"\\") {
		return kv
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(kv) + `"`
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
