package daemon

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const killPollInterval = 50 * time.Millisecond

// Kill sends SIGTERM to the process named by the pid file and waits up to
// timeout for it to exit.
func Kill(pidFile string, timeout time.Duration) error {
	pid, err := ReadPid(pidFile)
	if err != nil {
		return err
	}
	return KillWait(pid, unix.SIGTERM, timeout)
}

// KillWait signals pid and polls until it is gone or timeout passes.
func KillWait(pid int, sig unix.Signal, timeout time.Duration) error {
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for Alive(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("pid %d still running after %v", pid, timeout)
		}
		time.Sleep(killPollInterval)
	}
	return nil
}
