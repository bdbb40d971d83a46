package telemetry

import (
	"errors"
	"os"

	"github.com/crafthq/craft/internal/config"
)

// EnvAPIKey overrides every other credential source when set.
const EnvAPIKey = "CRAFT_TELEMETRY_API_KEY"

// ErrNoAPIKey indicates no telemetry credential could be resolved. The
// caller falls back to a DisabledClient rather than failing.
var ErrNoAPIKey = errors.New("no telemetry API key configured")

// ResolveAPIKey resolves the collector credential: the environment variable
// first, then the config file. There is no automatic remote fetch.
func ResolveAPIKey(cfg config.TelemetryConfig) (string, error) {
	if key := os.Getenv(EnvAPIKey); key != "" {
		return key, nil
	}
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	return "", ErrNoAPIKey
}
