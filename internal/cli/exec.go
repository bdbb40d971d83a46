package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/crafthq/craft/internal/telemetry"
)

// Exec runs an external command with stdio passed through and records a
// telemetry event for it. The child's exit code is returned verbatim;
// telemetry problems never change it.
func Exec(env Env, argv []string) (int, error) {
	if len(argv) == 0 {
		return 2, errors.New("exec: no command given")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	err := cmd.Run()
	end := time.Now()

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
		err = nil
	default:
		// The command never ran (not found, not executable). Record the
		// attempt with the conventional shell code.
		exitCode = 127
		err = fmt.Errorf("exec %s: %w", argv[0], err)
	}

	env.Manager().Record(telemetry.Event{
		StartTime: start.Unix(),
		EndTime:   end.Unix(),
		Command:   strings.Join(argv, " "),
		ExitCode:  exitCode,
	})

	return exitCode, err
}
