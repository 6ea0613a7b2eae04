package gopher

import (
	"bytes"
	"errors"
)

const (
	// RequestBufferSize is the capacity of a connection's request buffer.
	RequestBufferSize = 4096

	// MaxRequestLen is the most bytes held while waiting for a terminator.
	MaxRequestLen = RequestBufferSize - 1
)

// ErrRequestTooLarge means MaxRequestLen bytes arrived without a line terminator.
var ErrRequestTooLarge = errors.New("gopher: request too large")

// Request accumulates a selector line across partial reads.
type Request struct {
	buf []byte
}

// NewRequest allocates an empty request buffer.
func NewRequest() *Request {
	return &Request{buf: make([]byte, 0, RequestBufferSize)}
}

// Space returns the writable tail of the buffer. Reads must never be larger
// than this slice.
func (r *Request) Space() []byte {
	return r.buf[len(r.buf):MaxRequestLen]
}

// Len returns the number of bytes held.
func (r *Request) Len() int {
	return len(r.buf)
}

// Advance records n bytes that were just read into Space. It returns the
// selector once a '\n' or '\r' has been seen; bytes after the terminator are
// discarded. An empty selector is reported as "/".
func (r *Request) Advance(n int) (selector string, done bool, err error) {
	start := len(r.buf)
	r.buf = r.buf[:start+n]

	if i := bytes.IndexAny(r.buf[start:], "\r\n"); i >= 0 {
		line := r.buf[:start+i]
		if len(line) == 0 {
			return "/", true, nil
		}
		return string(line), true, nil
	}

	if len(r.buf) >= MaxRequestLen {
		return "", false, ErrRequestTooLarge
	}
	return "", false, nil
}

// Reset empties the buffer for reuse.
func (r *Request) Reset() {
	r.buf = r.buf[:0]
}
