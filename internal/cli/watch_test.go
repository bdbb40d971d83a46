package cli

import (
	"testing"
	"time"
)

func TestFormatEventTime(t *testing.T) {
	t.Parallel()

	valid := "2026-08-23T10:11:12.000000001Z"
	parsed, err := time.Parse(time.RFC3339Nano, valid)
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	wantValid := parsed.Local().Format("15:04:05")

	cases := []struct {
		name string
		ev   map[string]any
		want string
	}{
		{"valid timestamp", map[string]any{"ts": valid}, wantValid},
		{"missing ts", map[string]any{}, "          "},
		{"non-string ts", map[string]any{"ts": 42}, "          "},
		{"short invalid ts", map[string]any{"ts": "bad"}, "bad"},
		{"long invalid ts", map[string]any{"ts": "definitely-not-a-time"}, "definitely"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatEventTime(tc.ev); got != tc.want {
				t.Errorf("formatEventTime = %q, want %q", got, tc.want)
			}
		})
	}
}
