//go:build !linux

package reactor

import "time"

// Reactor is unavailable on this platform; New always fails.
type Reactor struct{}

func New(maxEvents int) (*Reactor, error) {
	return nil, ErrUnsupported
}

func (r *Reactor) Register(fd int, interest Interest, h Handler) error { return ErrUnsupported }
func (r *Reactor) Modify(fd int, interest Interest) error              { return ErrUnsupported }
func (r *Reactor) Unregister(fd int) error                             { return ErrUnsupported }
func (r *Reactor) Len() int                                            { return 0 }
func (r *Reactor) Poll(timeout time.Duration) (int, error)             { return 0, ErrUnsupported }
func (r *Reactor) Wake() error                                         { return ErrUnsupported }
func (r *Reactor) Close() error                                        { return ErrUnsupported }
