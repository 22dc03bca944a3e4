package store

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestUpgrade(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      string
		want    string
		changed bool
	}{
		{
			name:    "current layout untouched",
			in:      `{"unit":{"startLimitBurst":5,"startLimitIntervalSeconds":10},"service":{"execStart":"/x"}}`,
			want:    `{"unit":{"startLimitBurst":5,"startLimitIntervalSeconds":10},"service":{"execStart":"/x"}}`,
			changed: false,
		},
		{
			name:    "start limits move and overwrite",
			in:      `{"unit":{"startLimitBurst":9},"service":{"startLimitInterval":30,"startLimitBurst":2}}`,
			want:    `{"unit":{"startLimitBurst":2,"startLimitIntervalSeconds":30},"service":{}}`,
			changed: true,
		},
		{
			name:    "unit group created",
			in:      `{"service":{"startLimitBurst":1}}`,
			want:    `{"unit":{"startLimitBurst":1},"service":{}}`,
			changed: true,
		},
		{
			name:    "legacy unit interval key",
			in:      `{"unit":{"startLimitInterval":15}}`,
			want:    `{"unit":{"startLimitIntervalSeconds":15}}`,
			changed: true,
		},
		{
			name:    "current key wins over snake_case",
			in:      `{"service":{"exec_start":"/old","execStart":"/new"}}`,
			want:    `{"service":{"execStart":"/new"}}`,
			changed: true,
		},
		{
			name:    "camelCase interval preferred over snake_case",
			in:      `{"unit":{"start_limit_interval":5,"startLimitInterval":7}}`,
			want:    `{"unit":{"startLimitIntervalSeconds":7}}`,
			changed: true,
		},
		{
			name:    "numeric strings",
			in:      `{"service":{"niceness":"-3","cpuQuotaPercent":"x"}}`,
			want:    `{"service":{"niceness":-3,"cpuQuotaPercent":"x"}}`,
			changed: true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := decode(t, tc.in)
			if got := Upgrade(rec); got != tc.changed {
				t.Fatalf("changed = %v, want %v", got, tc.changed)
			}
			// Compare through JSON so int and float64 line up.
			gotJSON, _ := json.Marshal(rec)
			if !reflect.DeepEqual(decode(t, string(gotJSON)), decode(t, tc.want)) {
				t.Fatalf("got %s, want %s", gotJSON, tc.want)
			}
			if Upgrade(rec) {
				t.Fatalf("second Upgrade reported a change: %s", gotJSON)
			}
		})
	}
}
