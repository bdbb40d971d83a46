package cli

import (
	"fmt"
)

// TelemetryEnable records consent and reports the resulting state.
func TelemetryEnable(env Env) error {
	if err := env.Manager().Consent(); err != nil {
		return fmt.Errorf("recording consent: %w", err)
	}
	fmt.Printf("Telemetry %s for %s\n", colorize(green, "enabled"), env.ID)
	return nil
}

// TelemetryDisable records dissent. Already-buffered records are left in
// place; clear-log --buffer removes them.
func TelemetryDisable(env Env) error {
	if err := env.Manager().Dissent(); err != nil {
		return fmt.Errorf("recording dissent: %w", err)
	}
	fmt.Printf("Telemetry %s for %s\n", colorize(yellow, "disabled"), env.ID)
	return nil
}
