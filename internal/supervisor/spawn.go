package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Environment handed to every worker process.
const (
	EnvRole     = "GOPHERD_ROLE"
	EnvWorkerID = "GOPHERD_WORKER_ID"
	EnvRestarts = "GOPHERD_WORKER_RESTARTS"

	RoleWorker = "worker"
)

// WorkerSpec identifies one worker generation.
type WorkerSpec struct {
	// ID is unique per spawned process.
	ID string

	// Restarts is how many crashed workers preceded this one.
	Restarts int
}

// Env returns the variables that mark a process as a worker.
func (w WorkerSpec) Env() []string {
	return []string{
		EnvRole + "=" + RoleWorker,
		EnvWorkerID + "=" + w.ID,
		EnvRestarts + "=" + strconv.Itoa(w.Restarts),
	}
}

// WorkerFromEnv reports whether the current process was started as a worker
// and, if so, which one.
func WorkerFromEnv() (WorkerSpec, bool) {
	if os.Getenv(EnvRole) != RoleWorker {
		return WorkerSpec{}, false
	}
	restarts, _ := strconv.Atoi(os.Getenv(EnvRestarts))
	return WorkerSpec{ID: os.Getenv(EnvWorkerID), Restarts: restarts}, true
}

// Worker is a started worker process.
type Worker interface {
	Pid() int
	Signal(sig os.Signal) error

	// Wait blocks until the process exits. It returns an error only when the
	// exit status could not be collected.
	Wait() (*os.ProcessState, error)
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(spec WorkerSpec) (Worker, error)
}

// CommandSpawner starts each worker from a fresh exec.Cmd.
type CommandSpawner struct {
	// Command returns an unstarted command. Spawn appends the worker
	// environment to it.
	Command func() *exec.Cmd
}

// NewSelfSpawner re-executes the running binary with args as the worker.
func NewSelfSpawner(args ...string) (*CommandSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &CommandSpawner{
		Command: func() *exec.Cmd {
			cmd := exec.Command(exe, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd
		},
	}, nil
}

// Spawn implements Spawner.
func (s *CommandSpawner) Spawn(spec WorkerSpec) (Worker, error) {
	cmd := s.Command()
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, spec.Env()...)
	setDeathSignal(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &commandWorker{cmd: cmd}, nil
}

type commandWorker struct {
	cmd *exec.Cmd
}

func (w *commandWorker) Pid() int { return w.cmd.Process.Pid }

func (w *commandWorker) Signal(sig os.Signal) error {
	err := w.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (w *commandWorker) Wait() (*os.ProcessState, error) {
	err := w.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, err
	}
	return w.cmd.ProcessState, nil
}
