package cli

import (
	"errors"
	"fmt"

	"github.com/crafthq/craft/internal/daemon"
)

// TelemetryStart launches the daemon and waits for it to bind. A zero port
// derives one from the identity.
func TelemetryStart(env Env, port int) error {
	d := env.Daemon()
	pid, err := d.Start(port)

	var running *daemon.AlreadyRunningError
	if errors.As(err, &running) {
		fmt.Printf("Telemetry daemon already running (pid %d)\n", running.PID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("starting telemetry daemon: %w", err)
	}

	fmt.Printf("Telemetry daemon %s (pid %d, port %d)\n", colorize(green, "started"), pid, d.Port())
	fmt.Printf("%s %s\n", colorize(dim, "log:"), d.LogFile())
	return nil
}

// TelemetryStop terminates the daemon if one is running.
func TelemetryStop(env Env) error {
	wasRunning, err := env.Daemon().Stop()
	if err != nil {
		return fmt.Errorf("stopping telemetry daemon: %w", err)
	}
	if !wasRunning {
		fmt.Println("Telemetry daemon is not running")
		return nil
	}
	fmt.Printf("Telemetry daemon %s\n", colorize(green, "stopped"))
	return nil
}
