// Package sigqueue turns asynchronous OS signals into an ordered queue that
// can be drained either from a readiness loop (via Fd) or by a blocking
// consumer (via Wait).
//
// Signals are never acted upon in the delivery path. They are appended to a
// FIFO and the queue's descriptor becomes readable; the consumer decides what
// each signal means with Classify.
package sigqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// Action is what a process should do about a received signal.
type Action int

const (
	// ActionIgnore means the signal is not one the server handles.
	ActionIgnore Action = iota
	// ActionQuit requests a graceful stop.
	ActionQuit
	// ActionLog records the signal and otherwise ignores it.
	ActionLog
)

func (a Action) String() string {
	switch a {
	case ActionQuit:
		return "quit"
	case ActionLog:
		return "log"
	default:
		return "ignore"
	}
}

// Handled is the set of signals the server subscribes to.
var Handled = []os.Signal{
	syscall.SIGINT,
	syscall.SIGQUIT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGPIPE,
}

// Classify maps a signal onto the server's response to it.
func Classify(sig os.Signal) Action {
	switch sig {
	case syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM:
		return ActionQuit
	case syscall.SIGHUP, syscall.SIGPIPE:
		return ActionLog
	default:
		return ActionIgnore
	}
}

// ErrClosed is returned by Wait once the queue has been closed.
var ErrClosed = errors.New("sigqueue: closed")

// Queue is a FIFO of received signals with a pollable descriptor that is
// readable exactly while the queue is non-empty.
type Queue struct {
	mu      sync.Mutex
	pending *queue.Queue
	closed  bool

	rfd, wfd int
	ch       chan os.Signal
	notify   chan struct{}
	done     chan struct{}
}

// New subscribes to sigs (Handled when empty) and starts queueing them.
func New(sigs ...os.Signal) (*Queue, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("signal pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, fmt.Errorf("signal pipe nonblock: %w", err)
		}
	}

	q := &Queue{
		pending: queue.New(),
		rfd:     p[0],
		wfd:     p[1],
		ch:      make(chan os.Signal, 16),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	if len(sigs) == 0 {
		sigs = Handled
	}
	signal.Notify(q.ch, sigs...)

	go q.run()
	return q, nil
}

func (q *Queue) run() {
	defer close(q.done)
	for sig := range q.ch {
		q.Inject(sig)
	}
}

// Inject appends sig to the queue as if it had been delivered by the OS.
func (q *Queue) Inject(sig os.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.pending.Add(sig)

	// A full pipe is still readable, which is all the reactor needs.
	_, _ = unix.Write(q.wfd, []byte{1})

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Fd returns a descriptor that polls readable while signals are pending.
func (q *Queue) Fd() int {
	return q.rfd
}

// Len returns the number of pending signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}

// Next pops the oldest pending signal without blocking.
func (q *Queue) Next() (os.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Length() == 0 {
		return nil, false
	}
	sig := q.pending.Remove().(os.Signal)
	if q.pending.Length() == 0 && !q.closed {
		q.drain()
	}
	return sig, true
}

func (q *Queue) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(q.rfd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Wait blocks until a signal is pending, the context ends, or the queue is closed.
func (q *Queue) Wait(ctx context.Context) (os.Signal, error) {
	for {
		if sig, ok := q.Next(); ok {
			return sig, nil
		}
		select {
		case <-q.notify:
		case <-q.done:
			if sig, ok := q.Next(); ok {
				return sig, nil
			}
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close unsubscribes from all signals and releases the descriptor.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	signal.Stop(q.ch)
	close(q.ch)
	<-q.done

	err := unix.Close(q.rfd)
	if cerr := unix.Close(q.wfd); err == nil {
		err = cerr
	}
	return err
}
