package daemon

import "fmt"

// AlreadyRunningError means start was attempted while a live daemon holds
// the PID file. Informational, not fatal.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("telemetry daemon is already running (pid %d)", e.PID)
}

// BindError means the daemon could not bind its derived port, either because
// a foreign process holds it or because the spawned process never confirmed
// the bind. Recoverable by retrying with an explicit port.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("binding telemetry daemon port %d: %v", e.Port, e.Err)
	}
	return fmt.Sprintf("telemetry daemon did not come up on port %d", e.Port)
}

func (e *BindError) Unwrap() error { return e.Err }

// ShutdownTimeoutError means the daemon process survived both the graceful
// signal and the forced kill. Fatal: the process is leaked and needs manual
// intervention.
type ShutdownTimeoutError struct {
	PID int
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("telemetry daemon (pid %d) did not exit after forced termination", e.PID)
}
