package gopher

import (
	"errors"
	"io"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher"
	"github.com/marmos91/gopherd/internal/reactor"
)

type connState int

const (
	stateWaitingRequest connState = iota
	stateWaitingDispatch
	stateSendingResponse
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateWaitingRequest:
		return "WaitingRequest"
	case stateWaitingDispatch:
		return "WaitingDispatch"
	case stateSendingResponse:
		return "SendingResponse"
	default:
		return "Closed"
	}
}

// Reasons a connection ends, used as the metrics label.
const (
	reasonDone       = "done"
	reasonPeerClosed = "peer_closed"
	reasonTooLarge   = "too_large"
	reasonIOError    = "io_error"
	reasonShutdown   = "shutdown"
)

// conn is one client: it reads a selector, streams one response and closes.
//
// Interest follows state: Readable only while waiting for the request,
// Writable only while sending. A new chunk is pulled from the source only
// after the previous one has been written completely.
type conn struct {
	adapter *GopherAdapter
	fd      int
	peer    string
	state   connState

	req      *gopher.Request
	selector string
	path     string
	src      gopher.Source

	// out is the unsent remainder of the current chunk.
	out  []byte
	sent int

	accepted time.Time
}

func newConn(a *GopherAdapter, fd int, peer string) *conn {
	return &conn{
		adapter:  a,
		fd:       fd,
		peer:     peer,
		state:    stateWaitingRequest,
		req:      gopher.NewRequest(),
		accepted: time.Now(),
	}
}

// handle is the reactor callback for the connection's socket.
func (c *conn) handle(fd int, ev reactor.Event) {
	if c.state == stateClosed {
		return
	}
	if ev.Has(reactor.EventError) {
		logger.Debug("Gopher connection %s: socket error in %s", c.peer, c.state)
		c.teardown(reasonIOError)
		return
	}

	switch c.state {
	case stateWaitingRequest:
		if ev&(reactor.EventRead|reactor.EventHangup) != 0 {
			c.readRequest()
		}
	case stateSendingResponse:
		if ev.Has(reactor.EventHangup) {
			c.teardown(reasonPeerClosed)
			return
		}
		if ev.Has(reactor.EventWrite) {
			c.flush()
		}
	}
}

func (c *conn) readRequest() {
	n, err := readFd(c.fd, c.req.Space())
	if err != nil {
		if wouldBlock(err) {
			return
		}
		logger.Debug("Gopher connection %s: read: %v", c.peer, err)
		c.teardown(reasonIOError)
		return
	}
	if n == 0 {
		logger.Debug("Gopher connection %s: closed before sending a selector", c.peer)
		c.teardown(reasonPeerClosed)
		return
	}

	selector, done, err := c.req.Advance(n)
	if err != nil {
		logger.Warn("Gopher connection %s: %v", c.peer, err)
		c.teardown(reasonTooLarge)
		return
	}
	if !done {
		return
	}

	c.selector = selector
	c.state = stateWaitingDispatch
	c.dispatch()
}

// dispatch resolves the selector, opens the response source and switches
// the socket from read to write interest.
func (c *conn) dispatch() {
	cfg := &c.adapter.config
	start := time.Now()

	res := gopher.Resolve(cfg.Root, c.selector)
	c.path = res.Path
	c.src = c.adapter.open(res, gopher.Advertise{Host: cfg.Hostname, Port: cfg.AdvertisedPort})

	kind := c.src.Kind().String()
	c.adapter.metrics.RecordRequest(kind, time.Since(start))
	logger.Debug("Gopher %s requested %q -> %s (%s)", c.peer, c.selector, c.path, kind)

	if err := c.adapter.reactor.Modify(c.fd, reactor.Writable); err != nil {
		logger.Warn("Gopher connection %s: %v", c.peer, err)
		c.teardown(reasonIOError)
		return
	}
	c.state = stateSendingResponse
	c.queueNext()
}

// queueNext loads the next chunk into out, tearing the connection down when
// the source is exhausted. Reports whether a chunk was queued.
func (c *conn) queueNext() bool {
	chunk, err := c.src.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.teardown(reasonDone)
			return false
		}
		logger.Warn("Gopher connection %s: reading %s: %v", c.peer, c.path, err)
		c.teardown(reasonIOError)
		return false
	}
	c.out = chunk
	return true
}

// flush writes as much of out as the socket accepts. Once out is empty the
// write is complete and the next chunk is queued for the next readiness.
func (c *conn) flush() {
	for len(c.out) > 0 {
		n, err := writeFd(c.fd, c.out)
		if err != nil {
			if wouldBlock(err) {
				return
			}
			logger.Debug("Gopher connection %s: write: %v", c.peer, err)
			c.teardown(reasonIOError)
			return
		}
		c.out = c.out[n:]
		c.sent += n
		c.adapter.metrics.RecordBytesSent(n)
		if logger.Enabled(logger.LevelTrace) {
			logger.Trace("Gopher connection %s: wrote %d bytes (%d total)", c.peer, n, c.sent)
		}
	}
	c.queueNext()
}

// teardown releases everything the connection owns. Idempotent.
func (c *conn) teardown(reason string) {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed

	if r := c.adapter.reactor; r != nil {
		if err := r.Unregister(c.fd); err != nil && !errors.Is(err, reactor.ErrNotRegistered) {
			logger.Debug("Gopher connection %s: unregister: %v", c.peer, err)
		}
	}
	if err := closeFd(c.fd); err != nil {
		logger.Debug("Gopher connection %s: close: %v", c.peer, err)
	}
	if c.src != nil {
		_ = c.src.Close()
		c.src = nil
	}
	c.out = nil

	c.adapter.removeConn(c, reason)
	logger.Debug("Gopher connection %s closed (%s, %d bytes, %v)",
		c.peer, reason, c.sent, time.Since(c.accepted))
}
