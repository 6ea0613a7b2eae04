package sigqueue

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(syscall.SIGUSR1, syscall.SIGUSR2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func readable(t *testing.T, fd int) bool {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	require.NoError(t, err)
	return n == 1 && fds[0].Revents&unix.POLLIN != 0
}

func TestClassify(t *testing.T) {
	tests := []struct {
		sig  syscall.Signal
		want Action
	}{
		{syscall.SIGINT, ActionQuit},
		{syscall.SIGQUIT, ActionQuit},
		{syscall.SIGTERM, ActionQuit},
		{syscall.SIGHUP, ActionLog},
		{syscall.SIGPIPE, ActionLog},
		{syscall.SIGUSR1, ActionIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sig))
		})
	}
}

func TestInjectPreservesOrder(t *testing.T) {
	q := newQueue(t)

	assert.False(t, readable(t, q.Fd()))
	_, ok := q.Next()
	assert.False(t, ok)

	q.Inject(syscall.SIGHUP)
	q.Inject(syscall.SIGTERM)
	assert.Equal(t, 2, q.Len())
	assert.True(t, readable(t, q.Fd()))

	sig, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, syscall.SIGHUP, sig)
	assert.True(t, readable(t, q.Fd()), "descriptor stays readable while signals are pending")

	sig, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, syscall.SIGTERM, sig)
	assert.False(t, readable(t, q.Fd()))
}

func TestDeliveredSignalIsQueued(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sig, err := q.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGUSR1, sig)
}

func TestWaitHonoursContext(t *testing.T) {
	q := newQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitAfterClose(t *testing.T) {
	q, err := New(syscall.SIGUSR2)
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err = q.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
