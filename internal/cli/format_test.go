package cli

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m 0s"},
		{2*time.Hour + 14*time.Minute + 8*time.Second, "2h 14m 8s"},
		{0, "0s"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.d); got != tc.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		b    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 << 20, "3.0 MB"},
	}
	for _, tc := range cases {
		if got := formatBytes(tc.b); got != tc.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tc.b, got, tc.want)
		}
	}
}

func TestPadRight(t *testing.T) {
	t.Parallel()
	if got := padRight("ab", 5); got != "ab   " {
		t.Errorf("padRight = %q", got)
	}
	if got := padRight("abcdef", 3); got != "abcdef" {
		t.Errorf("padRight must not truncate, got %q", got)
	}
}
