// Package config handles loading, defaulting, and validation of the craft
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/crafthq/craft/internal/fsutil"
)

// Environment variables consumed by the config layer. Each one overrides
// the corresponding default location.
const (
	EnvConfig   = "CRAFT_CONFIG"
	EnvDataDir  = "CRAFT_DATA_DIR"
	EnvCacheDir = "CRAFT_CACHE_DIR"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`
	Collector CollectorConfig `toml:"collector" json:"collector"`
	Daemon    DaemonConfig    `toml:"daemon"    json:"daemon"`
	Storage   StorageConfig   `toml:"storage"   json:"storage"`
}

// TelemetryConfig holds the telemetry credential. Consent itself lives in a
// separate consent file so that deleting the config file never silently
// re-enables reporting; APIKey here is the lowest-priority credential source
// after the environment variable.
type TelemetryConfig struct {
	APIKey string `toml:"api_key" json:"api_key"`
}

// CollectorConfig points at the remote collector events are forwarded to.
type CollectorConfig struct {
	URL            string `toml:"url"             json:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds" json:"timeout_seconds"`
}

// DaemonConfig tunes the telemetry daemon's relay behavior.
type DaemonConfig struct {
	SweepIntervalSeconds   int `toml:"sweep_interval_seconds"   json:"sweep_interval_seconds"`
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
}

// StorageConfig names the data and cache roots. Empty values fall back to
// the OS-conventional user directories at resolution time.
type StorageConfig struct {
	Data  string `toml:"data"  json:"data"`
	Cache string `toml:"cache" json:"cache"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Telemetry: TelemetryConfig{
			APIKey: "",
		},
		Collector: CollectorConfig{
			URL:            "https://telemetry-intake.craft.dev/api/v1/events",
			TimeoutSeconds: 10,
		},
		Daemon: DaemonConfig{
			SweepIntervalSeconds:   5,
			ShutdownTimeoutSeconds: 5,
		},
		Storage: StorageConfig{},
	}
}

// DefaultPath returns the config file location: $CRAFT_CONFIG when set,
// otherwise <user config dir>/craft/config.toml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "craft", "config.toml"), nil
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. A missing file is not an error: the defaults are
// returned so a fresh installation works without a config file.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save validates cfg and atomically writes it to path, creating parent
// directories as needed.
func Save(path string, cfg Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, b, 0o644)
}

// Restore rewrites path with the default configuration.
func Restore(path string) error {
	return Save(path, Default())
}

// Set applies a dotted-key assignment like "collector.url" to cfg. Only
// known keys are accepted so typos fail loudly instead of silently adding
// ignored tables.
func Set(cfg *Config, key, value string) error {
	switch key {
	case "telemetry.api_key":
		cfg.Telemetry.APIKey = value
	case "collector.url":
		cfg.Collector.URL = value
	case "collector.timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.Collector.TimeoutSeconds = n
	case "daemon.sweep_interval_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.Daemon.SweepIntervalSeconds = n
	case "daemon.shutdown_timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.Daemon.ShutdownTimeoutSeconds = n
	case "storage.data":
		cfg.Storage.Data = value
	case "storage.cache":
		cfg.Storage.Cache = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return validate(*cfg)
}

// DataDir resolves the data root: $CRAFT_DATA_DIR, then storage.data, then
// the OS user config location.
func (c Config) DataDir() (string, error) {
	if p := os.Getenv(EnvDataDir); p != "" {
		return p, nil
	}
	if c.Storage.Data != "" {
		return c.Storage.Data, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "craft", "data"), nil
}

// CacheDir resolves the cache root: $CRAFT_CACHE_DIR, then storage.cache,
// then the OS user cache location.
func (c Config) CacheDir() (string, error) {
	if p := os.Getenv(EnvCacheDir); p != "" {
		return p, nil
	}
	if c.Storage.Cache != "" {
		return c.Storage.Cache, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "craft"), nil
}

func validate(cfg Config) error {
	if cfg.Collector.URL == "" {
		return errors.New("collector.url must not be empty")
	}
	if cfg.Collector.TimeoutSeconds <= 0 {
		return errors.New("collector.timeout_seconds must be > 0")
	}
	if cfg.Daemon.SweepIntervalSeconds <= 0 {
		return errors.New("daemon.sweep_interval_seconds must be > 0")
	}
	if cfg.Daemon.ShutdownTimeoutSeconds <= 0 {
		return errors.New("daemon.shutdown_timeout_seconds must be > 0")
	}
	return nil
}
