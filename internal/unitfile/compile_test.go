package unitfile

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"unitforge/internal/model"
)

func bodyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l == "" || strings.HasPrefix(l, "[") {
			continue
		}
		out = append(out, l)
	}
	return out
}

func TestCompileDefaultsOnlyEmitsRequiredLines(t *testing.T) {
	t.Parallel()
	c := model.New("demo")
	c.Service.ExecStart = "/usr/bin/true"

	got := Compile(c)
	want := "[Unit]\n\n[Service]\nType=simple\nExecStart=/usr/bin/true\n\n[Install]\nWantedBy=multi-user.target\n"
	if got != want {
		t.Fatalf("Compile() =\n%s\nwant\n%s", got, want)
	}
	if strings.Contains(got, "Description=") {
		t.Fatal("empty description must not be emitted")
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	t.Parallel()
	c := model.New("demo")
	c.Service.ExecStart = "/usr/bin/app"
	c.Service.Environment = map[string]string{"Z": "1", "A": "2", "M": "with space", "Q": `say "hi"`}
	c.Unit.After = []string{"network.target", "time-sync.target"}

	first := Compile(c)
	for i := 0; i < 20; i++ {
		if got := Compile(c); got != first {
			t.Fatalf("run %d differs:\n%s\nvs\n%s", i, got, first)
		}
	}
	envLines := []string{}
	for _, l := range strings.Split(first, "\n") {
		if strings.HasPrefix(l, "Environment=") {
			envLines = append(envLines, l)
		}
	}
	wantEnv := []string{
		"Environment=A=2",
		`Environment="M=with space"`,
		`Environment="Q=say \"hi\""`,
		"Environment=Z=1",
	}
	if !reflect.DeepEqual(envLines, wantEnv) {
		t.Fatalf("environment lines = %q, want %q", envLines, wantEnv)
	}
}

func TestCompileEmitsEveryNonDefaultField(t *testing.T) {
	t.Parallel()
	c := model.New("web")
	c.Unit.Description = "Web app"
	c.Unit.Documentation = []string{"https://example.com/docs", "man:web(8)"}
	c.Unit.After = []string{"network.target", "postgresql.service"}
	c.Unit.Before = []string{"nginx.service"}
	c.Unit.Requires = []string{"postgresql.service"}
	c.Unit.Wants = []string{"redis.service"}
	c.Unit.StartLimitBurst = 0
	c.Unit.StartLimitIntervalSeconds = 300
	c.Service.Type = model.TypeForking
	c.Service.User = "www"
	c.Service.Group = "www"
	c.Service.WorkingDirectory = "/srv/web"
	c.Service.ExecStart = "/srv/web/bin/web --port 8080"
	c.Service.ExecStop = "/srv/web/bin/web stop"
	c.Service.ExecReload = "/bin/kill -HUP $MAINPID"
	c.Service.Restart = model.RestartOnFailure
	c.Service.RestartDelaySeconds = 3
	c.Service.Niceness = -5
	c.Service.MemoryLimit = "512M"
	c.Service.CPUQuotaPercent = 50
	c.Service.RemainAfterExit = true
	c.Install.WantedBy = []string{"multi-user.target", "graphical.target"}
	c.Install.RequiredBy = []string{"app.target"}
	c.Install.Also = []string{"web.socket"}

	got := bodyLines(Compile(c))
	want := []string{
		"Description=Web app",
		"Documentation=https://example.com/docs man:web(8)",
		"After=network.target",
		"After=postgresql.service",
		"Before=nginx.service",
		"Requires=postgresql.service",
		"Wants=redis.service",
		"StartLimitBurst=0",
		"StartLimitIntervalSec=300",
		"Type=forking",
		"User=www",
		"Group=www",
		"WorkingDirectory=/srv/web",
		"ExecStart=/srv/web/bin/web --port 8080",
		"ExecStop=/srv/web/bin/web stop",
		"ExecReload=/bin/kill -HUP $MAINPID",
		"Restart=on-failure",
		"RestartSec=3",
		"Nice=-5",
		"MemoryMax=512M",
		"CPUQuota=50%",
		"RemainAfterExit=yes",
		"WantedBy=multi-user.target graphical.target",
		"RequiredBy=app.target",
		"Also=web.socket",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("lines =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestCompileStanzaOrder(t *testing.T) {
	t.Parallel()
	c := model.New("demo")
	c.Service.ExecStart = "/bin/true"
	out := Compile(c)
	u := strings.Index(out, "[Unit]")
	s := strings.Index(out, "[Service]")
	i := strings.Index(out, "[Install]")
	if !(u == 0 && u < s && s < i) {
		t.Fatalf("unexpected stanza order: unit=%d service=%d install=%d", u, s, i)
	}
}

func TestCompileKeepsValuesOnOneLine(t *testing.T) {
	t.Parallel()
	c := model.New("demo")
	c.Unit.Description = "x\n[Service]\nExecStartPre=/bin/sh -c id"
	c.Unit.After = []string{"network.target\r\nExecStartPre=/bin/id"}
	c.Service.ExecStart = "/usr/bin/true"
	c.Service.Environment = map[string]string{"A": "1\nExecStartPre=/bin/id", "B": "nul\x00"}

	got := Compile(c)
	headers := 0
	for _, l := range strings.Split(got, "\n") {
		if strings.HasPrefix(l, "[") {
			headers++
		}
		if strings.HasPrefix(l, "ExecStartPre=") {
			t.Fatalf("value escaped its line:\n%s", got)
		}
	}
	if headers != 3 {
		t.Fatalf("got %d stanza headers, want 3:\n%s", headers, got)
	}
	if strings.Contains(got, "\x00") || strings.Contains(got, "\r") {
		t.Fatalf("control characters in output: %q", got)
	}
	if !strings.Contains(got, `Description=x\n[Service]\nExecStartPre=/bin/sh -c id`+"\n") {
		t.Fatalf("description not escaped in place:\n%s", got)
	}
	if !strings.Contains(got, "Environment=B=nul\n") {
		t.Fatalf("NUL not dropped from environment:\n%s", got)
	}
}

func TestExecStartLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		wd   string
		cmd  string
		want string
	}{
		{name: "absolute", wd: "/opt/app", cmd: "/usr/bin/python3 app.py", want: "/usr/bin/python3 app.py"},
		{name: "bare file", wd: "/opt/app", cmd: "run.sh --port 1", want: "/opt/app/run.sh --port 1"},
		{name: "dot slash", wd: "/opt/app/", cmd: "./run.sh", want: "/opt/app/run.sh"},
		{name: "no working dir", wd: "", cmd: "run.sh", want: "run.sh"},
		{name: "multiplexer", wd: "/opt/app", cmd: "/usr/bin/screen -dmS service_x /opt/app/run.sh", want: "/usr/bin/screen -dmS service_x /opt/app/run.sh"},
		{name: "empty", wd: "/opt/app", cmd: "", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExecStartLine(model.ExecutionSection{WorkingDirectory: tt.wd, ExecStart: tt.cmd})
			if got != tt.want {
				t.Fatalf("ExecStartLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	c := model.New("web")
	c.Unit.Description = "Web app"
	c.Unit.After = []string{"network.target"}
	c.Unit.StartLimitBurst = 20
	c.Service.Type = model.TypeNotify
	c.Service.User = "www"
	c.Service.ExecStart = "/srv/web/bin/web"
	c.Service.Environment = map[string]string{"MODE": "prod", "GREETING": "hello world"}
	c.Service.Restart = model.RestartAlways
	c.Service.RestartDelaySeconds = 2
	c.Service.CPUQuotaPercent = 75
	c.Install.WantedBy = []string{"multi-user.target"}

	got, err := Parse("web", strings.NewReader(Compile(c)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Fatalf("Parse(Compile(c)) =\n%+v\nwant\n%+v", got, c)
	}
}

func TestParseLegacyKeys(t *testing.T) {
	t.Parallel()
	text := "[Unit]\nDescription=Old\nStartLimitInterval=60\n\n[Service]\nExecStart=/bin/old\nMemoryLimit=1G\nRestartSec=5s\nRemainAfterExit=true\nX-Custom=ignored\n"
	got, err := Parse("old", strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Unit.StartLimitIntervalSeconds != 60 {
		t.Fatalf("StartLimitIntervalSeconds = %d, want 60", got.Unit.StartLimitIntervalSeconds)
	}
	if got.Service.MemoryLimit != "1G" || got.Service.RestartDelaySeconds != 5 || !got.Service.RemainAfterExit {
		t.Fatalf("unexpected service section: %+v", got.Service)
	}
	if got.Install.WantedBy != nil {
		t.Fatalf("WantedBy = %v, want nil", got.Install.WantedBy)
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	t.Parallel()
	_, err := Parse("bad", strings.NewReader("[Service]\nNice=very\n"))
	if !errors.Is(err, model.ErrCorruptConfiguration) {
		t.Fatalf("err = %v, want ErrCorruptConfiguration", err)
	}
}
