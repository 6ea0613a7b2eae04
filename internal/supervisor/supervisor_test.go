//go:build linux

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/gopherd/internal/sigqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSpawner runs /bin/sh -c script and remembers every spec.
type recordingSpawner struct {
	inner *CommandSpawner

	mu    sync.Mutex
	specs []WorkerSpec
}

func shSpawner(script string, env ...string) *recordingSpawner {
	return &recordingSpawner{
		inner: &CommandSpawner{
			Command: func() *exec.Cmd {
				cmd := exec.Command("/bin/sh", "-c", script)
				cmd.Env = append(os.Environ(), env...)
				return cmd
			},
		},
	}
}

func (r *recordingSpawner) Spawn(spec WorkerSpec) (Worker, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.mu.Unlock()
	return r.inner.Spawn(spec)
}

func (r *recordingSpawner) spawned() []WorkerSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WorkerSpec(nil), r.specs...)
}

func runAsync(s *Supervisor, ctx context.Context) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	return errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func exitState(t *testing.T, script string) *os.ProcessState {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	_ = cmd.Run()
	require.NotNil(t, cmd.ProcessState)
	return cmd.ProcessState
}

func TestClassify(t *testing.T) {
	tests := []struct {
		script string
		want   Outcome
	}{
		{"exit 0", OutcomeClean},
		{"exit 1", OutcomeFatal},
		{"exit 3", OutcomeFatal},
		{"exit 2", OutcomeCrash},
		{"kill -9 $$", OutcomeCrash},
		{"kill -SEGV $$", OutcomeCrash},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(exitState(t, tt.script)))
		})
	}
	assert.Equal(t, OutcomeCrash, Classify(nil))
}

func TestCleanExitStops(t *testing.T) {
	sp := shSpawner("exit 0")
	s := New(sp, nil, Config{})

	require.NoError(t, s.Run(context.Background()))
	assert.Len(t, sp.spawned(), 1)
	assert.Equal(t, 0, s.Restarts())
}

func TestFatalExitStops(t *testing.T) {
	sp := shSpawner("exit 1")
	s := New(sp, nil, Config{})

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkerFailed)
	assert.Len(t, sp.spawned(), 1, "a fatal worker is never restarted")
}

func TestCrashIsRestartedOnce(t *testing.T) {
	sp := shSpawner(`[ "$GOPHERD_WORKER_RESTARTS" = 0 ] && kill -9 $$; exit 0`)
	s := New(sp, nil, Config{})

	require.NoError(t, s.Run(context.Background()))

	specs := sp.spawned()
	require.Len(t, specs, 2)
	assert.Equal(t, 0, specs[0].Restarts)
	assert.Equal(t, 1, specs[1].Restarts)
	assert.NotEqual(t, specs[0].ID, specs[1].ID)
	assert.Equal(t, 1, s.Restarts())
}

func TestPanicExitCodeIsRestarted(t *testing.T) {
	sp := shSpawner(`[ "$GOPHERD_WORKER_RESTARTS" -lt 3 ] && exit 2; exit 0`)
	s := New(sp, nil, Config{})

	require.NoError(t, s.Run(context.Background()))
	assert.Len(t, sp.spawned(), 4, "exactly one restart per crash")
	assert.Equal(t, 3, s.Restarts())
}

func TestRestartDelay(t *testing.T) {
	sp := shSpawner(`[ "$GOPHERD_WORKER_RESTARTS" = 0 ] && kill -9 $$; exit 0`)
	s := New(sp, nil, Config{RestartDelay: 200 * time.Millisecond})

	start := time.Now()
	require.NoError(t, s.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestWorkerEnvironment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env")
	sp := shSpawner(`echo "$GOPHERD_ROLE $GOPHERD_WORKER_ID" > "$OUT"`, "OUT="+out)
	s := New(sp, nil, Config{})
	require.NoError(t, s.Run(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "worker "+sp.spawned()[0].ID+"\n", string(data))
}

func TestQuitSignalForwardsTerm(t *testing.T) {
	q, err := sigqueue.New(syscall.SIGUSR1)
	require.NoError(t, err)
	defer q.Close()

	marker := filepath.Join(t.TempDir(), "term")
	sp := shSpawner(`trap 'echo term > "$MARK"; exit 0' TERM; while :; do sleep 0.05; done`, "MARK="+marker)
	s := New(sp, q, Config{})

	errc := runAsync(s, context.Background())
	require.Eventually(t, func() bool { return s.WorkerPid() != 0 }, 5*time.Second, 10*time.Millisecond)

	q.Inject(syscall.SIGHUP)
	time.Sleep(100 * time.Millisecond)
	assert.NotZero(t, s.WorkerPid(), "SIGHUP is only logged")

	q.Inject(syscall.SIGTERM)
	require.NoError(t, waitRun(t, errc))

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "term\n", string(data))
	assert.Len(t, sp.spawned(), 1)
	assert.Zero(t, s.WorkerPid())
}

func TestContextCancelStopsWorker(t *testing.T) {
	sp := shSpawner(`trap 'exit 0' TERM; while :; do sleep 0.05; done`)
	s := New(sp, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(s, ctx)
	require.Eventually(t, func() bool { return s.WorkerPid() != 0 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, errc))
	assert.Len(t, sp.spawned(), 1)
}

func TestWorkerIgnoringTermIsKilled(t *testing.T) {
	sp := shSpawner(`trap '' TERM; while :; do sleep 0.05; done`)
	s := New(sp, nil, Config{StopTimeout: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(s, ctx)
	require.Eventually(t, func() bool { return s.WorkerPid() != 0 }, 5*time.Second, 10*time.Millisecond)
	pid := s.WorkerPid()

	start := time.Now()
	cancel()
	require.NoError(t, waitRun(t, errc))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, s.WorkerPid())

	// Reaped, so the pid no longer names our child.
	assert.Error(t, syscall.Kill(pid, 0))
}

func TestWorkerSurvivesThreadExit(t *testing.T) {
	sp := shSpawner(`trap 'exit 0' TERM; while :; do sleep 0.05; done`)
	s := New(sp, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(s, ctx)
	require.Eventually(t, func() bool { return s.WorkerPid() != 0 }, 5*time.Second, 10*time.Millisecond)
	pid := s.WorkerPid()

	// A goroutine that exits while locked takes its OS thread with it.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
		}()
	}
	wg.Wait()
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, pid, s.WorkerPid())
	assert.NoError(t, syscall.Kill(pid, 0))

	cancel()
	require.NoError(t, waitRun(t, errc))
	assert.Len(t, sp.spawned(), 1, "the worker was never restarted")
}

func TestSpawnSetsDeathSignal(t *testing.T) {
	var cmd *exec.Cmd
	sp := &CommandSpawner{Command: func() *exec.Cmd {
		cmd = exec.Command("/bin/sh", "-c", "exit 0")
		return cmd
	}}

	w, err := sp.Spawn(WorkerSpec{ID: "x"})
	require.NoError(t, err)
	_, err = w.Wait()
	require.NoError(t, err)

	require.NotNil(t, cmd.SysProcAttr)
	assert.Equal(t, syscall.SIGTERM, cmd.SysProcAttr.Pdeathsig)
}

func TestStopBeforeRun(t *testing.T) {
	sp := shSpawner("exit 0")
	s := New(sp, nil, Config{})
	s.Stop()

	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, sp.spawned())
}

func TestSpawnFailure(t *testing.T) {
	s := New(&CommandSpawner{
		Command: func() *exec.Cmd { return exec.Command("/nonexistent/gopherd") },
	}, nil, Config{})

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start worker")
	assert.NotErrorIs(t, err, ErrWorkerFailed)
}

func TestWorkerFromEnv(t *testing.T) {
	t.Setenv(EnvRole, "")
	_, ok := WorkerFromEnv()
	assert.False(t, ok)

	t.Setenv(EnvRole, RoleWorker)
	t.Setenv(EnvWorkerID, "abc")
	t.Setenv(EnvRestarts, "4")
	spec, ok := WorkerFromEnv()
	require.True(t, ok)
	assert.Equal(t, WorkerSpec{ID: "abc", Restarts: 4}, spec)
}
