// Package daemon manages the telemetry daemon: the detached background
// process that drains buffered event records and forwards them to the
// remote collector. The CLI side (this file) owns start/stop/status against
// PID files; the daemon side (server.go) owns the bound port and the relay
// loop. Client and daemon agree on the port by deriving it from the daemon
// identity, so no discovery protocol is needed.
package daemon

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/crafthq/craft/internal/fsutil"
	"github.com/crafthq/craft/internal/netutil"
)

// Environment variables a parent process sets for the daemon it spawns.
const (
	EnvID         = "CRAFT_TELEMETRY_ID"
	EnvWriteDir   = "CRAFT_TELEMETRY_WRITE_DIR"
	EnvLogFile    = "CRAFT_TELEMETRY_LOG_FILE"
	EnvPort       = "CRAFT_TELEMETRY_PORT"
	EnvCommandPID = "CRAFT_TELEMETRY_COMMAND_PID"
)

// State is the externally observable daemon lifecycle state. The transient
// STARTING and STOPPING states only exist inside Start and Stop; callers
// always see one of these two.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// Status describes a daemon as seen from the CLI side.
type Status struct {
	State         State `json:"state"`
	PID           int   `json:"pid,omitempty"`
	Port          int   `json:"port"`
	UptimeSeconds int64 `json:"uptime_seconds,omitempty"`
	Pending       int   `json:"pending,omitempty"`
}

// Options configures a lifecycle manager.
type Options struct {
	ID           string        // daemon identity: file prefix and port seed
	Dir          string        // write directory for pid, log, and record files
	Logger       *log.Logger   // nil discards
	Launcher     Launcher      // nil means OSLauncher
	StartTimeout time.Duration // bounded wait for bind confirmation
	StopTimeout  time.Duration // bounded wait for graceful exit
}

// Daemon is the CLI-side lifecycle manager for one daemon identity.
type Daemon struct {
	id       string
	dir      string
	log      *log.Logger
	launcher Launcher

	startTimeout time.Duration
	stopTimeout  time.Duration
	probe        *http.Client
}

// New builds a lifecycle manager. Zero timeouts get serviceable defaults.
func New(opts Options) *Daemon {
	launcher := opts.Launcher
	if launcher == nil {
		launcher = OSLauncher{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	startTimeout := opts.StartTimeout
	if startTimeout == 0 {
		startTimeout = 5 * time.Second
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout == 0 {
		stopTimeout = 5 * time.Second
	}
	return &Daemon{
		id:           opts.ID,
		dir:          opts.Dir,
		log:          logger,
		launcher:     launcher,
		startTimeout: startTimeout,
		stopTimeout:  stopTimeout,
		probe:        &http.Client{Timeout: time.Second},
	}
}

// PIDFile returns the daemon's PID file path.
func (d *Daemon) PIDFile() string { return filepath.Join(d.dir, d.id+".pid") }

// LogFile returns the daemon's append-only log path.
func (d *Daemon) LogFile() string { return filepath.Join(d.dir, d.id+".log") }

// Port returns the port derived from the daemon identity.
func (d *Daemon) Port() int { return netutil.DerivePort(d.id) }

// Start spawns the daemon as a detached process and waits, bounded, for it
// to confirm its bind. A zero port derives one from the daemon identity.
// Returns the spawned PID, or *AlreadyRunningError / *BindError.
func (d *Daemon) Start(port int) (int, error) {
	if port == 0 {
		port = d.Port()
	}
	if err := fsutil.EnsureDir(d.dir); err != nil {
		return 0, err
	}

	// Self-heal a stale PID file before claiming the slot. A PID file that
	// exists but does not parse is treated as another start in flight (the
	// create-exclusive placeholder below is briefly empty), so it reports
	// already-running rather than being clobbered; `status` heals a
	// genuinely corrupt one.
	if _, err := os.Stat(d.PIDFile()); err == nil {
		pid, _, ok := d.readPID()
		if !ok || d.launcher.Alive(pid) {
			return 0, &AlreadyRunningError{PID: pid}
		}
		_ = os.Remove(d.PIDFile())
	}

	// Create-exclusive claim: a concurrent Start against the same identity
	// loses this race and reports already-running instead of double-binding.
	f, err := os.OpenFile(d.PIDFile(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			pid, _, _ := d.readPID()
			return 0, &AlreadyRunningError{PID: pid}
		}
		return 0, err
	}
	f.Close()

	self, err := os.Executable()
	if err != nil {
		_ = os.Remove(d.PIDFile())
		return 0, err
	}

	env := append(os.Environ(),
		EnvID+"="+d.id,
		EnvWriteDir+"="+d.dir,
		EnvLogFile+"="+d.LogFile(),
		EnvPort+"="+strconv.Itoa(port),
		EnvCommandPID+"="+strconv.Itoa(os.Getpid()),
	)
	pid, err := d.launcher.SpawnDetached([]string{self, "telemetry", "relay"}, env)
	if err != nil {
		_ = os.Remove(d.PIDFile())
		return 0, fmt.Errorf("spawning telemetry daemon: %w", err)
	}

	// The port rides along in the PID file so a later status query knows
	// where an explicitly ported daemon actually listens.
	record := strconv.Itoa(pid) + "\n" + strconv.Itoa(port) + "\n"
	if err := fsutil.WriteAtomic(d.PIDFile(), []byte(record), 0o644); err != nil {
		_ = os.Remove(d.PIDFile())
		return 0, err
	}

	if err := d.awaitBind(port, pid); err != nil {
		return 0, err
	}
	return pid, nil
}

// awaitBind polls the daemon's health endpoint until it answers or the
// start timeout elapses.
func (d *Daemon) awaitBind(port, pid int) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	deadline := time.Now().Add(d.startTimeout)
	for time.Now().Before(deadline) {
		resp, err := d.probe.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Either the port was taken by a foreign process or the child died
	// before binding; its log file has the details. A dead child's PID
	// file is cleaned up so the failed start leaves no state behind.
	if !d.launcher.Alive(pid) {
		_ = os.Remove(d.PIDFile())
	}
	return &BindError{Port: port}
}

// Status probes the daemon without ever failing on a missing one: absent or
// stale PID files report STOPPED, and a stale file is removed on the way.
func (d *Daemon) Status() Status {
	st := Status{State: StateStopped, Port: d.Port()}

	if _, err := os.Stat(d.PIDFile()); err != nil {
		return st
	}
	pid, port, ok := d.readPID()
	if !ok || !d.launcher.Alive(pid) {
		// Self-healing: the process is gone (or the file is corrupt),
		// drop the stale PID file.
		_ = os.Remove(d.PIDFile())
		return st
	}

	st.State = StateRunning
	st.PID = pid
	if port != 0 {
		st.Port = port
	}

	// Best-effort enrichment over loopback; the daemon is still RUNNING
	// even if the ping fails (e.g. it is mid-startup).
	url := fmt.Sprintf("http://127.0.0.1:%d/api/status", st.Port)
	resp, err := d.probe.Get(url)
	if err != nil {
		return st
	}
	defer resp.Body.Close()
	var remote struct {
		UptimeSeconds int64 `json:"uptime_seconds"`
		Pending       int   `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&remote); err == nil {
		st.UptimeSeconds = remote.UptimeSeconds
		st.Pending = remote.Pending
	}
	return st
}

// Stop terminates a running daemon: graceful signal, bounded wait,
// forced kill, bounded wait again. The PID file is removed on confirmed
// exit. Returns false when no daemon was running (which is success), and
// *ShutdownTimeoutError when even the forced kill did not reap the process.
func (d *Daemon) Stop() (bool, error) {
	pid, _, ok := d.readPID()
	if !ok {
		return false, nil
	}
	if !d.launcher.Alive(pid) {
		_ = os.Remove(d.PIDFile())
		return false, nil
	}

	if err := d.launcher.Terminate(pid); err != nil && d.launcher.Alive(pid) {
		return true, fmt.Errorf("signaling telemetry daemon (pid %d): %w", pid, err)
	}
	if d.awaitExit(pid, d.stopTimeout) {
		_ = os.Remove(d.PIDFile())
		return true, nil
	}

	d.log.Printf("telemetry daemon (pid %d) ignored SIGTERM, killing", pid)
	_ = d.launcher.Kill(pid)
	if d.awaitExit(pid, 2*time.Second) {
		_ = os.Remove(d.PIDFile())
		return true, nil
	}

	return true, &ShutdownTimeoutError{PID: pid}
}

func (d *Daemon) awaitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !d.launcher.Alive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !d.launcher.Alive(pid)
}

// readPID parses the PID file: the PID on the first line and the listen
// port on the second. A missing or malformed file reads as absent; a
// missing or malformed port reads as zero (the caller falls back to the
// derived port).
func (d *Daemon) readPID() (pid, port int, ok bool) {
	b, err := os.ReadFile(d.PIDFile())
	if err != nil {
		return 0, 0, false
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, 0, false
	}
	pid, err = strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, 0, false
	}
	if len(fields) > 1 {
		if p, perr := strconv.Atoi(fields[1]); perr == nil && p > 0 {
			port = p
		}
	}
	return pid, port, true
}
