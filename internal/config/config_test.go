package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg != Default() {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[collector]
url = "https://collector.example.com/events"

[daemon]
sweep_interval_seconds = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Collector.URL != "https://collector.example.com/events" {
		t.Errorf("collector.url not applied: %q", cfg.Collector.URL)
	}
	if cfg.Daemon.SweepIntervalSeconds != 2 {
		t.Errorf("daemon.sweep_interval_seconds not applied: %d", cfg.Daemon.SweepIntervalSeconds)
	}
	// Untouched fields keep their defaults.
	if cfg.Collector.TimeoutSeconds != Default().Collector.TimeoutSeconds {
		t.Errorf("collector.timeout_seconds should default, got %d", cfg.Collector.TimeoutSeconds)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty collector url", "[collector]\nurl = \"\"\n"},
		{"zero timeout", "[collector]\ntimeout_seconds = 0\n"},
		{"negative sweep interval", "[daemon]\nsweep_interval_seconds = -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("seed write failed: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Collector.URL = "https://collector.example.com/v2"
	cfg.Storage.Data = "/srv/craft"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestRestoreRewritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Collector.TimeoutSeconds = 99
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := Restore(path); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != Default() {
		t.Errorf("Restore did not reset config: %+v", got)
	}
}

func TestSet(t *testing.T) {
	cfg := Default()

	if err := Set(&cfg, "collector.timeout_seconds", "30"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if cfg.Collector.TimeoutSeconds != 30 {
		t.Errorf("timeout_seconds = %d, want 30", cfg.Collector.TimeoutSeconds)
	}

	if err := Set(&cfg, "telemetry.api_key", "abc123"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if cfg.Telemetry.APIKey != "abc123" {
		t.Errorf("api_key = %q, want abc123", cfg.Telemetry.APIKey)
	}

	if err := Set(&cfg, "collector.timeout_seconds", "not-a-number"); err == nil {
		t.Error("expected error for non-numeric value")
	}
	if err := Set(&cfg, "no.such.key", "x"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("expected unknown key error, got %v", err)
	}
	// Invalid values are rejected by validation.
	if err := Set(&cfg, "daemon.sweep_interval_seconds", "0"); err == nil {
		t.Error("expected validation error for zero sweep interval")
	}
}

func TestDirEnvOverrides(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/craft-data")
	t.Setenv(EnvCacheDir, "/tmp/craft-cache")

	cfg := Default()
	data, err := cfg.DataDir()
	if err != nil || data != "/tmp/craft-data" {
		t.Errorf("DataDir = %q, %v; want env override", data, err)
	}
	cache, err := cfg.CacheDir()
	if err != nil || cache != "/tmp/craft-cache" {
		t.Errorf("CacheDir = %q, %v; want env override", cache, err)
	}
}
