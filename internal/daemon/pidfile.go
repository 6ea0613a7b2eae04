// Package daemon holds the process-identity pieces of running gopherd in the
// background: the pid file, -k, detaching from the terminal and dropping root.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning is returned when the pid file names a live process.
	ErrAlreadyRunning = errors.New("daemon already running")

	// ErrNotRunning is returned when there is no pid file or its process is gone.
	ErrNotRunning = errors.New("daemon not running")
)

// PidFile is a pid file created by this process.
type PidFile struct {
	path string
	pid  int
}

// CreatePidFile writes the current pid to path. A stale file left by a dead
// process is replaced.
func CreatePidFile(path string) (*PidFile, error) {
	if pid, err := ReadPid(path); err == nil {
		return nil, fmt.Errorf("%w as pid %d", ErrAlreadyRunning, pid)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("create pid file: %w", err)
	}
	return &PidFile{path: path, pid: pid}, nil
}

// Path returns the file location.
func (p *PidFile) Path() string { return p.path }

// Remove deletes the pid file if it still names this process.
func (p *PidFile) Remove() error {
	if p == nil {
		return nil
	}
	if pid, err := readPidFile(p.path); err != nil || pid != p.pid {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// ReadPid returns the pid recorded in path if that process is alive.
// It returns ErrNotRunning for a missing file or a stale pid.
func ReadPid(path string) (int, error) {
	pid, err := readPidFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, err
	}
	if !Alive(pid) {
		return 0, fmt.Errorf("%w (stale pid %d)", ErrNotRunning, pid)
	}
	return pid, nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: malformed contents %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Alive reports whether a process with pid exists. A process owned by
// another user counts as alive.
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
