// Craft is a developer-tooling CLI harness. Its commands run local developer
// workflows; command completions are reported through an opt-in telemetry
// pipeline served by a detached daemon (the same binary re-executed with the
// hidden `telemetry relay` subcommand).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/crafthq/craft/internal/cli"
)

func main() {
	var (
		id      = pflag.String("id", "", "Telemetry identity override (default: derived from the repo root)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter record,state)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --port are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	env, err := cli.LoadEnv(*id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	cmd := pflag.Arg(0)
	args := pflag.Args()[1:]

	switch cmd {
	case "telemetry":
		err = runTelemetry(env, args, *jsonOut, *filter)

	case "config":
		err = runConfig(env, args, *jsonOut)

	case "exec":
		// Everything after exec (and an optional --) is the child argv.
		if len(args) > 0 && args[0] == "--" {
			args = args[1:]
		}
		code, execErr := cli.Exec(env, args)
		if execErr != nil {
			fmt.Fprintln(os.Stderr, "error:", execErr)
		}
		os.Exit(code)

	case "version":
		err = cli.VersionInfo(env, *jsonOut)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runTelemetry(env cli.Env, args []string, jsonOut bool, filter []string) error {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	sub := args[0]
	subArgs := args[1:]

	switch sub {
	case "enable":
		return cli.TelemetryEnable(env)

	case "disable":
		return cli.TelemetryDisable(env)

	case "status":
		return cli.TelemetryStatus(env, jsonOut)

	case "start":
		var port int
		startFlags := pflag.NewFlagSet("start", pflag.ContinueOnError)
		startFlags.IntVar(&port, "port", 0, "Listen port (default: derived from the identity)")
		_ = startFlags.Parse(subArgs)
		return cli.TelemetryStart(env, port)

	case "stop":
		return cli.TelemetryStop(env)

	case "log":
		return cli.TelemetryLog(env)

	case "clear-log":
		var buffer bool
		clearFlags := pflag.NewFlagSet("clear-log", pflag.ContinueOnError)
		clearFlags.BoolVar(&buffer, "buffer", false, "Also remove buffered event records")
		_ = clearFlags.Parse(subArgs)
		return cli.TelemetryClearLog(env, buffer)

	case "watch":
		return cli.TelemetryWatch(env, cli.WatchOptions{
			Filter: filter,
			JSON:   jsonOut,
		})

	case "relay":
		// Hidden: the daemon entrypoint reached via detached re-exec.
		return cli.Relay()

	default:
		usage()
		os.Exit(2)
		return nil
	}
}

func runConfig(env cli.Env, args []string, jsonOut bool) error {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "show":
		return cli.ConfigShow(env, jsonOut)

	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: craft config set <key> <value>")
		}
		return cli.ConfigSet(env, args[1], args[2])

	case "restore":
		return cli.ConfigRestore(env)

	default:
		usage()
		os.Exit(2)
		return nil
	}
}

func usage() {
	fmt.Print(`
  craft — developer-tooling CLI harness

  USAGE
    craft [flags] <command> [command-flags]

  COMMANDS (telemetry)
    telemetry enable      Opt in to command telemetry
    telemetry disable     Opt out of command telemetry
    telemetry status      Show consent, daemon state, and buffer backlog
    telemetry start       Start the telemetry daemon
    telemetry stop        Stop the telemetry daemon
    telemetry log         Show the daemon log
    telemetry clear-log   Delete the daemon log
    telemetry watch       Stream live relay events (Ctrl-C to stop)

  COMMANDS (config)
    config show           Show the effective configuration
    config set            Set a config value by dotted key
    config restore        Rewrite the config file with defaults

  COMMANDS (other)
    exec                  Run a command and record its completion
    version               Show CLI and daemon version information

  GLOBAL FLAGS
        --id NAME       Telemetry identity (default: derived from repo root)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    telemetry start:
        --port N        Listen port (default: derived from the identity)

    telemetry clear-log:
        --buffer        Also remove buffered event records

  EXAMPLES
    craft telemetry enable
    craft telemetry status
    craft --json telemetry status
    craft telemetry start
    craft telemetry watch --filter record,state
    craft exec -- go test ./...
    craft config set collector.url https://intake.example.com/v1/events
    craft config show
    craft version

`)
}
