package cli

import (
	"fmt"
	"io"
	"os"
)

// TelemetryLog streams the daemon log file to stdout.
func TelemetryLog(env Env) error {
	f, err := os.Open(env.Manager().LogFile())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println(colorize(dim, "no daemon log yet"))
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}

// TelemetryClearLog deletes the daemon log, and with buffer set, the
// buffered record files as well.
func TelemetryClearLog(env Env, buffer bool) error {
	if err := env.Manager().ClearLog(buffer); err != nil {
		return err
	}
	if buffer {
		fmt.Println("Cleared daemon log and buffered records")
	} else {
		fmt.Println("Cleared daemon log")
	}
	return nil
}
