package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// EnvStatusFd tells a detached child which descriptor carries its start
// status back to the launching process.
const EnvStatusFd = "GOPHERD_STATUS_FD"

// statusFd is the first ExtraFiles slot.
const statusFd = 3

// StatusOK is the start status of a daemon that is up and serving.
const StatusOK byte = 0

// ErrStartTimeout is returned by Detach when the child does not report in time.
var ErrStartTimeout = errors.New("daemon did not report its start status")

// Detach starts cmd in a new session with stdio on /dev/null and waits up
// to timeout for the one-byte start status it writes through Report.
//
// The child keeps running after Detach returns, whatever the outcome.
func Detach(cmd *exec.Cmd, timeout time.Duration) error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create status pipe: %w", err)
	}
	defer r.Close()

	cmd.Stdin, cmd.Stdout, cmd.Stderr = devNull, devNull, devNull
	cmd.ExtraFiles = []*os.File{w}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", EnvStatusFd, statusFd))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err = cmd.Start()
	// Only the child may hold the write end, so its exit shows up as EOF.
	w.Close()
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	if err := r.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("status pipe: %w", err)
	}

	var status [1]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("%w within %v (pid %d)", ErrStartTimeout, timeout, pid)
		}
		return fmt.Errorf("daemon (pid %d) exited before reporting its start status", pid)
	}
	if status[0] != StatusOK {
		return fmt.Errorf("daemon declined to start (status %d)", status[0])
	}
	return nil
}

// StatusReporter is the child side of Detach. A nil reporter is valid and
// does nothing, which is the foreground case.
type StatusReporter struct {
	f *os.File
}

// StatusFromEnv returns the reporter inherited from Detach, or nil when the
// process was not started by Detach.
func StatusFromEnv() *StatusReporter {
	if os.Getenv(EnvStatusFd) == "" {
		return nil
	}
	os.Unsetenv(EnvStatusFd)
	return &StatusReporter{f: os.NewFile(statusFd, "status")}
}

// Report sends the start status once and closes the pipe. Later calls are
// no-ops.
func (r *StatusReporter) Report(status byte) error {
	if r == nil || r.f == nil {
		return nil
	}
	f := r.f
	r.f = nil
	defer f.Close()

	if _, err := f.Write([]byte{status}); err != nil {
		return fmt.Errorf("report start status: %w", err)
	}
	return nil
}
