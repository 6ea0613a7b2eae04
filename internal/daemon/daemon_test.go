//go:build linux

package daemon

import (
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPidFileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gopherd.pid")

	_, err := ReadPid(path)
	assert.ErrorIs(t, err, ErrNotRunning)

	pf, err := CreatePidFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, pf.Path())

	pid, err := ReadPid(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = CreatePidFile(path)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, pf.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, pf.Remove(), "second remove is a no-op")
}

func deadPid(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func TestStalePidFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gopherd.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPid(t))+"\n"), 0o644))

	_, err := ReadPid(path)
	assert.ErrorIs(t, err, ErrNotRunning)

	pf, err := CreatePidFile(path)
	require.NoError(t, err)
	defer pf.Remove()
}

func TestMalformedPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gopherd.pid")
	require.NoError(t, os.WriteFile(path, []byte("gopher\n"), 0o644))

	_, err := ReadPid(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRunning)
}

func TestRemoveKeepsForeignPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gopherd.pid")
	pf, err := CreatePidFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o644))
	require.NoError(t, pf.Remove())

	_, err = os.Stat(path)
	assert.NoError(t, err, "a pid file rewritten by another instance is left alone")
}

func TestKill(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "trap 'exit 0' TERM; while :; do sleep 0.05; done")
	require.NoError(t, cmd.Start())
	reaped := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(reaped)
	}()

	path := filepath.Join(t.TempDir(), "gopherd.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644))

	require.NoError(t, Kill(path, 5*time.Second))
	<-reaped
}

func TestKillNotRunning(t *testing.T) {
	err := Kill(filepath.Join(t.TempDir(), "none.pid"), time.Second)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestKillWaitTimeout(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "trap '' TERM; sleep 2")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	// Give the shell time to install its trap.
	time.Sleep(100 * time.Millisecond)

	err := KillWait(cmd.Process.Pid, unix.SIGTERM, 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still running")
}

func TestDetach(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		wantErr string
	}{
		{"started", `printf '\000' >&3; sleep 0.2`, 5 * time.Second, ""},
		{"declined", `printf '\002' >&3`, 5 * time.Second, "status 2"},
		{"exited early", `exit 1`, 5 * time.Second, "before reporting"},
		{"timeout", `sleep 1`, 100 * time.Millisecond, "did not report"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Detach(exec.Command("/bin/sh", "-c", tt.script), tt.timeout)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStatusReporter(t *testing.T) {
	var nilReporter *StatusReporter
	assert.NoError(t, nilReporter.Report(StatusOK))

	t.Setenv(EnvStatusFd, "")
	assert.Nil(t, StatusFromEnv())

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	rep := &StatusReporter{f: w}
	require.NoError(t, rep.Report(7))
	require.NoError(t, rep.Report(9), "only the first status is sent")

	buf := make([]byte, 4)
	n, _ := r.Read(buf)
	assert.Equal(t, []byte{7}, buf[:n])
}

func TestDropPrivileges(t *testing.T) {
	assert.NoError(t, DropPrivileges(""))

	err := DropPrivileges("no-such-gopherd-user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not lookup user")

	if os.Getuid() == 0 {
		t.Skip("switching identity as root would affect the rest of the test binary")
	}
	me, err := user.Current()
	require.NoError(t, err)
	assert.NoError(t, DropPrivileges(me.Username))
	assert.NoError(t, DropPrivileges(me.Uid))
}
