package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want time.Duration
		err  string
	}{
		{"", 0, ""},
		{" 90s ", 90 * time.Second, ""},
		{"1h30m", 90 * time.Minute, ""},
		{"2d", 48 * time.Hour, ""},
		{"0", 0, ""},
		{"-5s", 0, "negative"},
		{"-1d", 0, "negative"},
		{"1.5d", 0, "not a duration"},
		{"soon", 0, "not a duration"},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("monitor.alert_window", tc.in)
		if tc.err != "" {
			if err == nil || !strings.Contains(err.Error(), tc.err) || !strings.HasPrefix(err.Error(), "monitor.alert_window: ") {
				t.Fatalf("%q: err = %v, want %q", tc.in, err, tc.err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %v, %v want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty: %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("zero: %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "5s", time.Minute); err != nil || d != 5*time.Second {
		t.Fatalf("set: %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "bad", time.Minute); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEnabledCacheTTLValue(t *testing.T) {
	t.Parallel()
	cases := map[string]time.Duration{
		"":     0,
		"0s":   -1,
		"30s":  30 * time.Second,
		"junk": 0,
	}
	for raw, want := range cases {
		c := &Config{EnabledCacheTTL: raw}
		if got := c.EnabledCacheTTLValue(); got != want {
			t.Fatalf("%q: got %v want %v", raw, got, want)
		}
	}
	bad := Default()
	bad.EnabledCacheTTL = "-1m"
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "enabled_cache_ttl") {
		t.Fatalf("Validate = %v", err)
	}
}
