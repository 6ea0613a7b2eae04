// Package supervisor runs the Gopher worker as a child process and restarts
// it when it crashes.
//
// A worker that exits 0 has shut down deliberately and the supervisor stops
// with it. Any other exit code except CrashExitCode means the worker could not
// run at all (a bind failure, a bad root) and restarting would only repeat
// the failure, so the supervisor stops and reports ErrWorkerFailed. A worker
// killed by a signal, or one that exits with CrashExitCode (an unrecovered Go
// panic), is restarted.
//
// Restarts are driven by a suture supervisor holding a single service that
// owns one worker process per Serve call.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/sigqueue"
	"github.com/thejerf/suture/v4"
)

// CrashExitCode is the status the Go runtime uses for an unrecovered panic
// or fatal runtime error.
const CrashExitCode = 2

// DefaultStopTimeout bounds how long a worker may take to exit after SIGTERM
// before it is killed.
const DefaultStopTimeout = 30 * time.Second

// ErrWorkerFailed is returned by Run when a worker exits with a non-crash,
// non-zero status.
var ErrWorkerFailed = errors.New("worker failed")

// Outcome classifies how a worker process ended.
type Outcome int

const (
	// OutcomeClean is exit status 0.
	OutcomeClean Outcome = iota
	// OutcomeFatal is a non-zero exit other than CrashExitCode.
	OutcomeFatal
	// OutcomeCrash is death by signal or CrashExitCode.
	OutcomeCrash
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeFatal:
		return "fatal"
	default:
		return "crash"
	}
}

// Classify maps a process exit status to an Outcome.
func Classify(state *os.ProcessState) Outcome {
	if state == nil {
		return OutcomeCrash
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return OutcomeCrash
	}
	switch state.ExitCode() {
	case 0:
		return OutcomeClean
	case CrashExitCode, -1:
		return OutcomeCrash
	default:
		return OutcomeFatal
	}
}

// Config tunes the supervisor.
type Config struct {
	// RestartDelay is slept before each restart. 0 restarts immediately.
	RestartDelay time.Duration

	// StopTimeout bounds how long shutdown waits for the worker to exit
	// after SIGTERM. A worker still running after that is sent SIGKILL.
	StopTimeout time.Duration
}

// Supervisor starts, waits on and restarts worker processes.
type Supervisor struct {
	spawner Spawner
	signals *sigqueue.Queue
	config  Config

	// quit only ever goes false -> true.
	quit atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	current  Worker
	exited   chan struct{}
	restarts int
	failure  error
}

// New creates a Supervisor. signals may be nil, in which case only context
// cancellation and Stop end Run.
func New(spawner Spawner, signals *sigqueue.Queue, cfg Config) *Supervisor {
	if spawner == nil {
		panic("supervisor: spawner cannot be nil")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		spawner: spawner,
		signals: signals,
		config:  cfg,
	}
}

// Run supervises workers until one exits cleanly, one fails fatally, a quit
// signal arrives, Stop is called or ctx ends.
//
// Returns nil for a clean stop, an error wrapping ErrWorkerFailed for a
// fatal worker exit, or the spawn error if a worker could not be started.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.quit.Load() {
		return nil
	}

	if s.signals != nil {
		go s.watchSignals(ctx)
	}

	sup := suture.New("gopherd", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Debug("supervisor: %s", e)
		},
		// Restart pacing is RestartDelay alone.
		FailureThreshold: math.Inf(1),
		// The service itself escalates to SIGKILL after StopTimeout.
		Timeout: 2 * s.config.StopTimeout,
	})
	sup.Add(&workerService{sup: s})

	err := sup.Serve(ctx)
	s.waitWorker()

	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()

	switch {
	case failure != nil:
		return failure
	case err == nil, ctx.Err() != nil, errors.Is(err, suture.ErrTerminateSupervisorTree):
		return nil
	default:
		return err
	}
}

// Stop raises the quit flag and forwards SIGTERM to the running worker.
func (s *Supervisor) Stop() {
	s.quit.Store(true)

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Restarts returns how many crashed workers have been restarted.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// WorkerPid returns the pid of the running worker, or 0.
func (s *Supervisor) WorkerPid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.Pid()
}

func (s *Supervisor) watchSignals(ctx context.Context) {
	for {
		sig, err := s.signals.Wait(ctx)
		if err != nil {
			return
		}
		switch sigqueue.Classify(sig) {
		case sigqueue.ActionQuit:
			logger.Warn("Got signal %v, terminating", sig)
			s.Stop()
			return
		case sigqueue.ActionLog:
			logger.Info("Got signal %v", sig)
		}
	}
}

// waitWorker blocks until no worker process is running.
func (s *Supervisor) waitWorker() {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited != nil {
		<-exited
	}
}

// terminate records a terminal outcome and stops suture from restarting.
func (s *Supervisor) terminate(failure error) error {
	s.quit.Store(true)
	s.mu.Lock()
	s.failure = failure
	s.mu.Unlock()
	return suture.ErrTerminateSupervisorTree
}

// workerService is the single suture service. Each Serve call owns exactly
// one worker process.
type workerService struct {
	sup *Supervisor
}

func (w *workerService) String() string { return "gopher-worker" }

// Serve implements suture.Service.
func (w *workerService) Serve(ctx context.Context) error {
	s := w.sup
	if s.quit.Load() {
		return suture.ErrDoNotRestart
	}

	s.mu.Lock()
	restarts := s.restarts
	s.mu.Unlock()

	if restarts > 0 && s.config.RestartDelay > 0 {
		select {
		case <-time.After(s.config.RestartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The worker's parent-death signal is tied to the thread that forked it,
	// so that thread must outlive the worker.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	spec := WorkerSpec{ID: uuid.NewString(), Restarts: restarts}
	worker, err := s.spawner.Spawn(spec)
	if err != nil {
		logger.Error("Error starting worker process: %v. Aborting", err)
		return s.terminate(fmt.Errorf("start worker: %w", err))
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.current = worker
	s.exited = exited
	s.mu.Unlock()

	logger.Info("Started worker %d (id %s, restarts %d)", worker.Pid(), spec.ID, restarts)

	type result struct {
		state *os.ProcessState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := worker.Wait()
		done <- result{state, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		logger.Info("Stopping worker %d", worker.Pid())
		if err := worker.Signal(syscall.SIGTERM); err != nil {
			logger.Warn("Error signalling worker %d: %v", worker.Pid(), err)
		}
		select {
		case res = <-done:
		case <-time.After(s.config.StopTimeout):
			logger.Warn("Worker %d ignored SIGTERM for %s, killing it", worker.Pid(), s.config.StopTimeout)
			if err := worker.Signal(syscall.SIGKILL); err != nil {
				logger.Warn("Error killing worker %d: %v", worker.Pid(), err)
			}
			res = <-done
		}
	}

	s.mu.Lock()
	s.current = nil
	s.exited = nil
	s.mu.Unlock()
	close(exited)

	if res.err != nil {
		logger.Error("Error waiting for worker %d: %v. Aborting", worker.Pid(), res.err)
		return s.terminate(fmt.Errorf("wait for worker: %w", res.err))
	}

	outcome := Classify(res.state)
	switch {
	case outcome == OutcomeClean:
		logger.Info("Worker %d exited", worker.Pid())
		return s.terminate(nil)

	case outcome == OutcomeFatal:
		logger.Error("Worker %d failed to initialize (%s). Aborting", worker.Pid(), res.state)
		return s.terminate(fmt.Errorf("%w: %s", ErrWorkerFailed, res.state))

	case s.quit.Load() || ctx.Err() != nil:
		logger.Info("Worker %d ended during shutdown (%s)", worker.Pid(), res.state)
		return suture.ErrDoNotRestart

	default:
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		logger.Error("Worker %d crashed (%s). Restarting", worker.Pid(), res.state)
		return fmt.Errorf("worker %d crashed: %s", worker.Pid(), res.state)
	}
}
