// Package version exposes the build identity shared by the CLI and the
// telemetry daemon it spawns.
package version

// Build-time variables set via -ldflags. For example:
//
//	go build -ldflags "-X github.com/crafthq/craft/internal/version.Version=v1.0.0"
var (
	Version   = "dev"
	GoVersion = "unknown"
	BuiltAt   = "unknown"
)
