package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/crafthq/craft/internal/daemon"
)

// TelemetryStatus shows the consent decision, the daemon lifecycle state,
// and the buffer backlog in one view.
func TelemetryStatus(env Env, jsonOut bool) error {
	mgr := env.Manager()
	st := env.Daemon().Status()

	pending, err := mgr.PendingRecords()
	if err != nil {
		return err
	}

	consent := "not recorded"
	if mgr.ConsentRecorded() {
		if mgr.Enabled() {
			consent = "enabled"
		} else {
			consent = "disabled"
		}
	}

	if jsonOut {
		return printJSON(map[string]any{
			"id":      env.ID,
			"consent": consent,
			"daemon":  st,
			"pending": len(pending),
			"dir":     env.Dir,
		})
	}

	consentStr := consent
	switch consent {
	case "enabled":
		consentStr = colorize(green, consent)
	case "disabled":
		consentStr = colorize(yellow, consent)
	default:
		consentStr = colorize(dim, consent)
	}

	fmt.Println()
	fmt.Println(header("  CRAFT TELEMETRY"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Identity:"), env.ID)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Consent:"), consentStr)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), colorize(stateColor(string(st.State)), string(st.State)))
	if st.State == daemon.StateRunning {
		fmt.Printf("  %-12s %d\n", colorize(dim, "PID:"), st.PID)
		fmt.Printf("  %-12s %d\n", colorize(dim, "Port:"), st.Port)
		if st.UptimeSeconds > 0 {
			fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), formatDuration(time.Duration(st.UptimeSeconds)*time.Second))
		}
	}
	fmt.Printf("  %-12s %d\n", colorize(dim, "Pending:"), len(pending))
	if fi, err := os.Stat(mgr.LogFile()); err == nil {
		fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "Log:"), mgr.LogFile(), formatBytes(fi.Size()))
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Dir:"), env.Dir)
	fmt.Println()
	return nil
}
