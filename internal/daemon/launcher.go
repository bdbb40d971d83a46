package daemon

import (
	"os/exec"
	"syscall"
)

// Launcher abstracts process spawning and signaling so the lifecycle logic
// stays testable with a fake. The real implementation detaches the child
// into its own session so it outlives the CLI process that started it.
type Launcher interface {
	// SpawnDetached starts argv as a detached background process with the
	// given environment and returns its PID.
	SpawnDetached(argv []string, env []string) (int, error)
	// Alive reports whether a process with the given PID exists.
	Alive(pid int) bool
	// Terminate sends the graceful termination signal.
	Terminate(pid int) error
	// Kill forcibly terminates the process.
	Kill(pid int) error
}

// OSLauncher is the production Launcher. The spawned process gets a fresh
// session (setsid) and no inherited stdio, which is what makes it a daemon
// rather than a child that dies with the terminal.
type OSLauncher struct{}

func (OSLauncher) SpawnDetached(argv []string, env []string) (int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	// nil stdio means /dev/null; the daemon writes to its log file instead.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Release, don't Wait: the daemon must keep running after we exit.
	_ = cmd.Process.Release()
	return pid, nil
}

func (OSLauncher) Alive(pid int) bool {
	// Signal 0 performs the existence check without delivering anything.
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

func (OSLauncher) Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

func (OSLauncher) Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
