// Package telemetry implements the anonymous usage-reporting pipeline: the
// event record written once per CLI invocation, the durable on-disk buffer,
// the transport to the remote collector, and the facade commands call into.
// Everything here degrades to a logged warning on the command path, since a
// telemetry failure must never change a foreground command's outcome.
package telemetry

import (
	"errors"
	"fmt"
)

// Event is the record emitted when a CLI command completes. It is created
// once, at process exit, and never mutated afterwards.
type Event struct {
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Command   string `json:"command"`
	ExitCode  int    `json:"exit_code"`
}

// Validate checks the event invariants: a non-empty command line and an end
// time no earlier than the start time.
func (e Event) Validate() error {
	if e.Command == "" {
		return errors.New("telemetry event has no command")
	}
	if e.EndTime < e.StartTime {
		return fmt.Errorf("telemetry event ends before it starts: %d < %d", e.EndTime, e.StartTime)
	}
	return nil
}

// Duration returns the elapsed command time in seconds.
func (e Event) Duration() int64 {
	return e.EndTime - e.StartTime
}
