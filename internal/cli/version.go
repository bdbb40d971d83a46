package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/crafthq/craft/internal/version"
)

// VersionInfo prints the CLI build identity and, when the telemetry daemon is
// reachable, the daemon's as well.
func VersionInfo(env Env, jsonOut bool) error {
	goVersion := version.GoVersion
	if goVersion == "unknown" {
		goVersion = runtime.Version()
	}

	var remote struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		BuiltAt   string `json:"built_at"`
	}
	remoteErr := fetchDaemonVersion(env, &remote)

	if jsonOut {
		resp := map[string]any{
			"cli": map[string]any{
				"version":    version.Version,
				"go_version": goVersion,
				"built_at":   version.BuiltAt,
			},
		}
		if remoteErr == nil {
			resp["daemon"] = remote
		}
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  CRAFT VERSION"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "CLI:"), version.Version, goVersion)
	if version.BuiltAt != "unknown" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Built:"), version.BuiltAt)
	}
	if remoteErr == nil {
		fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "Daemon:"), remote.Version, remote.GoVersion)
	}
	fmt.Println()
	return nil
}

// fetchDaemonVersion asks a running daemon for its build identity. Failure
// just means no daemon line in the output.
func fetchDaemonVersion(env Env, dst any) error {
	client := &http.Client{Timeout: time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/api/version", env.Daemon().Status().Port)
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
