//go:build linux

package reactor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Reactor is an epoll(7) backed event loop. See the package documentation
// for the threading contract.
type Reactor struct {
	epfd     int
	wakeR    int
	wakeW    int
	handlers map[int]Handler
	events   []unix.EpollEvent
	closed   bool
}

// New creates a reactor that dispatches at most maxEvents descriptors per Poll.
// A non-positive maxEvents selects DefaultMaxEvents.
func New(maxEvents int) (*Reactor, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("wake pipe: %w", err)
	}

	r := &Reactor{
		epfd:     epfd,
		wakeR:    p[0],
		wakeW:    p[1],
		handlers: make(map[int]Handler),
		events:   make([]unix.EpollEvent, maxEvents),
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.wakeR)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.wakeR, &ev); err != nil {
		r.closeFds()
		return nil, fmt.Errorf("epoll ctl add wake pipe: %w", err)
	}

	return r, nil
}

func toEpoll(interest Interest) uint32 {
	var events uint32
	if interest&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func fromEpoll(events uint32) Event {
	var ev Event
	if events&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if events&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if events&unix.EPOLLHUP != 0 {
		ev |= EventHangup
	}
	return ev
}

// Register starts watching fd for the given interest. Error and hangup
// conditions are always reported, even with an empty interest set.
func (r *Reactor) Register(fd int, interest Interest, h Handler) error {
	if r.closed {
		return ErrClosed
	}
	if h == nil {
		panic("reactor: nil handler")
	}

	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	r.handlers[fd] = h
	return nil
}

// Modify replaces the interest set of a registered descriptor.
func (r *Reactor) Modify(fd int, interest Interest) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.handlers[fd]; !ok {
		return ErrNotRegistered
	}

	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Unregister stops watching fd. It does not close the descriptor.
func (r *Reactor) Unregister(fd int) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.handlers[fd]; !ok {
		return ErrNotRegistered
	}

	delete(r.handlers, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Len returns the number of registered descriptors.
func (r *Reactor) Len() int {
	return len(r.handlers)
}

// Poll blocks in a single epoll_wait for at most timeout (negative blocks
// indefinitely) and runs the handler of every ready descriptor to completion.
// It returns the number of handlers invoked. An interrupted wait is not an error.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(r.epfd, r.events, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(r.events[i].Fd)
		if fd == r.wakeR {
			r.drainWake()
			continue
		}

		// A handler earlier in this batch may have unregistered fd.
		h, ok := r.handlers[fd]
		if !ok {
			continue
		}
		h(fd, fromEpoll(r.events[i].Events))
		dispatched++

		if r.closed {
			break
		}
	}
	return dispatched, nil
}

// Wake interrupts a blocked Poll. Safe to call from any goroutine, including
// signal handling paths; coalesces with pending wakeups.
func (r *Reactor) Wake() error {
	_, err := unix.Write(r.wakeW, []byte{0})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("wake: %w", err)
	}
	return nil
}

func (r *Reactor) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases the epoll instance and the wake pipe. Registered descriptors
// are not closed; their owners are responsible for them.
func (r *Reactor) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	r.handlers = nil
	return r.closeFds()
}

func (r *Reactor) closeFds() error {
	var firstErr error
	for _, fd := range []int{r.wakeR, r.wakeW, r.epfd} {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
