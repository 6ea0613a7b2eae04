// Package reactor implements a single-threaded, level-triggered readiness loop
// over raw file descriptors.
//
// A Reactor is owned by exactly one goroutine. Register, Modify, Unregister,
// Poll and Close must all be called from that goroutine; handlers run
// synchronously inside Poll and may freely call back into the reactor. The
// only method that is safe to call from other goroutines is Wake.
package reactor

import (
	"errors"
	"strings"
)

// Interest is the set of readiness conditions a descriptor is watched for.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is the set of conditions reported for a descriptor by Poll.
type Event uint32

const (
	EventRead Event = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Has reports whether all bits of f are set in e.
func (e Event) Has(f Event) bool {
	return e&f == f
}

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e.Has(EventRead) {
		parts = append(parts, "read")
	}
	if e.Has(EventWrite) {
		parts = append(parts, "write")
	}
	if e.Has(EventError) {
		parts = append(parts, "error")
	}
	if e.Has(EventHangup) {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}

// Handler is invoked by Poll for every ready descriptor.
type Handler func(fd int, ev Event)

var (
	// ErrClosed is returned by every operation on a closed reactor.
	ErrClosed = errors.New("reactor: closed")

	// ErrUnsupported is returned by New on platforms without epoll.
	ErrUnsupported = errors.New("reactor: this platform is not supported")

	// ErrNotRegistered is returned by Modify and Unregister for unknown descriptors.
	ErrNotRegistered = errors.New("reactor: descriptor not registered")
)

// DefaultMaxEvents bounds how many ready descriptors a single Poll dispatches.
const DefaultMaxEvents = 128
