// Package cli implements the craft subcommands. Each command is a function
// taking an Env (resolved configuration plus telemetry identity) and
// rendering to the terminal; main stays a thin flag-parsing dispatcher.
package cli

import (
	"os"
	"path/filepath"
	"time"

	"github.com/crafthq/craft/internal/config"
	"github.com/crafthq/craft/internal/daemon"
	"github.com/crafthq/craft/internal/netutil"
	"github.com/crafthq/craft/internal/telemetry"
)

// EnvID overrides the derived telemetry identity.
const EnvID = "CRAFT_TELEMETRY_ID"

// idPrefix namespaces every identity so the shared write directory stays
// recognizable in a file listing.
const idPrefix = "craft-"

// Env carries everything a command needs: the loaded configuration, where it
// came from, and the telemetry identity with its write directory.
type Env struct {
	Config     config.Config
	ConfigPath string
	ID         string
	Dir        string
	Port       int // daemon loopback port; zero derives it from ID
}

// LoadEnv resolves the configuration and the telemetry identity. An explicit
// id wins, then CRAFT_TELEMETRY_ID, then an id derived from the enclosing
// repository root so every checkout gets its own daemon and buffer namespace.
func LoadEnv(id string) (Env, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return Env{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return Env{}, err
	}

	if id == "" {
		id = os.Getenv(EnvID)
	}
	if id == "" {
		id, err = deriveID()
		if err != nil {
			return Env{}, err
		}
	}

	dir := os.Getenv(daemon.EnvWriteDir)
	if dir == "" {
		data, err := cfg.DataDir()
		if err != nil {
			return Env{}, err
		}
		dir = filepath.Join(data, "telemetry")
	}

	return Env{Config: cfg, ConfigPath: path, ID: id, Dir: dir}, nil
}

// deriveID builds the default identity from the repository root containing
// the working directory (or the working directory itself outside a repo).
// Hash-derived so two checkouts never collide on a port or a PID file.
func deriveID() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root := repoRoot(wd)
	return idPrefix + netutil.ShortID(root), nil
}

// repoRoot walks up from dir looking for a .git entry and returns dir itself
// when none is found.
func repoRoot(dir string) string {
	for d := dir; ; {
		if _, err := os.Stat(filepath.Join(d, ".git")); err == nil {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return dir
		}
		d = parent
	}
}

// Manager builds the telemetry facade for this environment.
func (e Env) Manager() *telemetry.Manager {
	return telemetry.NewManager(telemetry.ManagerOptions{
		ID:   e.ID,
		Dir:  e.Dir,
		Port: e.Port,
	})
}

// Daemon builds the lifecycle manager for this environment.
func (e Env) Daemon() *daemon.Daemon {
	return daemon.New(daemon.Options{
		ID:          e.ID,
		Dir:         e.Dir,
		StopTimeout: time.Duration(e.Config.Daemon.ShutdownTimeoutSeconds) * time.Second,
	})
}
