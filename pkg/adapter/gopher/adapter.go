// Package gopher serves the Gopher protocol from a single reactor goroutine.
//
// The adapter owns one listening socket, one epoll reactor and every client
// connection. All connection state transitions run synchronously inside the
// reactor's Poll; no connection is ever touched from another goroutine.
package gopher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher"
	"github.com/marmos91/gopherd/internal/reactor"
	"github.com/marmos91/gopherd/internal/sigqueue"
	"github.com/marmos91/gopherd/pkg/metrics"
)

// GopherConfig holds the Gopher listener and content settings.
//
// Default values (applied by New if zero):
//   - Backlog: 5
//   - Root: "." (the working directory)
//   - Hostname: "localhost"
//   - AdvertisedPort: 70
//   - MaxEvents: 128
//
// Port is not defaulted here: 0 binds an ephemeral port. The configuration
// layer supplies the standard port 70.
type GopherConfig struct {
	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// Backlog is the kernel accept queue length.
	Backlog int `mapstructure:"backlog" validate:"min=0" yaml:"backlog"`

	// Root is the directory selectors are resolved against.
	Root string `mapstructure:"root" yaml:"root"`

	// Hostname is written into every directory menu line.
	Hostname string `mapstructure:"hostname" validate:"omitempty,hostname_rfc1123|ip" yaml:"hostname"`

	// AdvertisedPort is written into every directory menu line. It is
	// independent of Port so the server can sit behind a port forward.
	AdvertisedPort int `mapstructure:"advertised_port" validate:"min=0,max=65535" yaml:"advertised_port"`

	// MaxEvents bounds how many ready descriptors one reactor iteration handles.
	MaxEvents int `mapstructure:"max_events" validate:"min=0" yaml:"max_events"`

	// MetricsLogInterval is the interval at which the open connection count
	// is logged. 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`
}

func (c *GopherConfig) applyDefaults() {
	if c.Backlog <= 0 {
		c.Backlog = 5
	}
	if c.Root == "" {
		c.Root = "."
	}
	if c.Hostname == "" {
		c.Hostname = gopher.DefaultHost
	}
	if c.AdvertisedPort == 0 {
		c.AdvertisedPort = gopher.DefaultPort
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = reactor.DefaultMaxEvents
	}
}

func (c *GopherConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.AdvertisedPort < 0 || c.AdvertisedPort > 65535 {
		return fmt.Errorf("invalid advertised port %d: must be 0-65535", c.AdvertisedPort)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid MetricsLogInterval %v: must be >= 0", c.MetricsLogInterval)
	}
	return nil
}

// GopherAdapter implements adapter.Adapter for the Gopher protocol.
//
// Shutdown is cooperative: a quit flag is raised (by Stop, context
// cancellation or a quit signal from the control queue) and the reactor is
// woken. The loop observes the flag between iterations, closes the listener
// and every open connection, and Serve returns.
type GopherAdapter struct {
	config  GopherConfig
	metrics metrics.GopherMetrics

	// quit is the cooperative stop flag, checked once per reactor iteration.
	quit atomic.Bool

	// mu guards reactor against Wake racing with Close.
	mu      sync.Mutex
	reactor *reactor.Reactor

	listenFd  int
	boundPort atomic.Int32

	// conns is owned by the reactor goroutine.
	conns     map[int]*conn
	connCount atomic.Int32

	signals   *sigqueue.Queue
	afterBind func() error

	// open builds the response source for a resolved selector.
	open func(gopher.Resolution, gopher.Advertise) gopher.Source

	serving atomic.Bool
	ready   chan struct{}
	done    chan struct{}
}

// New creates a GopherAdapter. A nil metrics collector selects the no-op
// implementation.
//
// Panics if config validation fails.
func New(config GopherConfig, m metrics.GopherMetrics) *GopherAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid Gopher config: %v", err))
	}
	if m == nil {
		m = metrics.NewNoopGopherMetrics()
	}

	return &GopherAdapter{
		config:   config,
		metrics:  m,
		listenFd: -1,
		conns:    make(map[int]*conn),
		open:     gopher.Open,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetSignalQueue makes the queue's descriptor the reactor's control channel.
// Must be called before Serve.
func (a *GopherAdapter) SetSignalQueue(q *sigqueue.Queue) {
	a.signals = q
}

// SetAfterBind installs a hook run once the listening socket is bound and
// before any connection is accepted. An error aborts Serve.
func (a *GopherAdapter) SetAfterBind(fn func() error) {
	a.afterBind = fn
}

// Serve binds the listener and runs the reactor until shutdown.
//
// Returns:
//   - error if the reactor or listener cannot be set up (the worker treats
//     this as fatal)
//   - ctx.Err() if shutdown came from context cancellation
//   - nil if shutdown came from Stop or a quit signal
func (a *GopherAdapter) Serve(ctx context.Context) error {
	if !a.serving.CompareAndSwap(false, true) {
		return errors.New("gopher adapter: Serve called twice")
	}
	defer close(a.done)

	// Every callback must run on the same OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r, err := reactor.New(a.config.MaxEvents)
	if err != nil {
		return fmt.Errorf("create reactor: %w", err)
	}

	lfd, port, err := listenTCP(a.config.Port, a.config.Backlog)
	if err != nil {
		_ = r.Close()
		return fmt.Errorf("gopher listener: %w", err)
	}
	a.listenFd = lfd
	a.boundPort.Store(int32(port))

	if a.afterBind != nil {
		if err := a.afterBind(); err != nil {
			_ = closeFd(lfd)
			_ = r.Close()
			return err
		}
	}

	if err := r.Register(lfd, reactor.Readable, a.accept); err != nil {
		_ = closeFd(lfd)
		_ = r.Close()
		return fmt.Errorf("register listener: %w", err)
	}
	if a.signals != nil {
		if err := r.Register(a.signals.Fd(), reactor.Readable, a.handleSignals); err != nil {
			_ = closeFd(lfd)
			_ = r.Close()
			return fmt.Errorf("register signal queue: %w", err)
		}
	}

	a.mu.Lock()
	a.reactor = r
	a.mu.Unlock()
	close(a.ready)

	logger.Info("Gopher server listening on port %d, serving %s", port, a.config.Root)
	logger.Debug("Gopher config: backlog=%d hostname=%s advertised_port=%d max_events=%d",
		a.config.Backlog, a.config.Hostname, a.config.AdvertisedPort, a.config.MaxEvents)

	loopDone := make(chan struct{})
	defer close(loopDone)
	go func() {
		select {
		case <-ctx.Done():
			logger.Debug("Gopher shutdown signal received: %v", ctx.Err())
			a.initiateShutdown()
		case <-loopDone:
		}
	}()

	if a.config.MetricsLogInterval > 0 {
		go a.logMetrics(loopDone)
	}

	var loopErr error
	for !a.quit.Load() {
		if _, err := r.Poll(-1); err != nil {
			loopErr = fmt.Errorf("reactor: %w", err)
			break
		}
	}

	a.shutdown()

	if loopErr != nil {
		return loopErr
	}
	return ctx.Err()
}

// shutdown closes the listener and every connection, then the reactor.
// Runs on the reactor goroutine.
func (a *GopherAdapter) shutdown() {
	open := len(a.conns)
	for _, c := range a.conns {
		c.teardown(reasonShutdown)
	}
	if open > 0 {
		logger.Info("Gopher shutdown: closed %d open connection(s)", open)
	}

	_ = a.reactor.Unregister(a.listenFd)
	if err := closeFd(a.listenFd); err != nil {
		logger.Warn("Error closing Gopher listener: %v", err)
	}
	a.listenFd = -1

	a.mu.Lock()
	_ = a.reactor.Close()
	a.reactor = nil
	a.mu.Unlock()

	logger.Info("Gopher server stopped")
}

// initiateShutdown raises the quit flag and wakes the reactor. Safe from any
// goroutine and idempotent.
func (a *GopherAdapter) initiateShutdown() {
	a.quit.Store(true)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reactor != nil {
		if err := a.reactor.Wake(); err != nil {
			logger.Warn("Gopher reactor wakeup failed: %v", err)
		}
	}
}

// Stop requests shutdown and waits for Serve to return or ctx to end.
func (a *GopherAdapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	if !a.serving.Load() {
		return nil
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		logger.Warn("Gopher shutdown context cancelled: %d connection(s) still open: %v",
			a.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// accept drains the listener's accept queue.
func (a *GopherAdapter) accept(lfd int, ev reactor.Event) {
	for {
		fd, peer, err := acceptConn(lfd)
		if err != nil {
			if !wouldBlock(err) {
				logger.Warn("Error accepting Gopher connection: %v", err)
			}
			return
		}

		c := newConn(a, fd, peer)
		if err := a.reactor.Register(fd, reactor.Readable, c.handle); err != nil {
			logger.Warn("Cannot watch connection from %s: %v", peer, err)
			_ = closeFd(fd)
			continue
		}
		a.conns[fd] = c

		count := a.connCount.Add(1)
		a.metrics.RecordConnectionAccepted()
		a.metrics.SetActiveConnections(int(count))
		logger.Debug("Gopher connection accepted from %s (fd=%d active=%d)", peer, fd, count)
	}
}

// handleSignals drains the control queue. Quit signals raise the quit flag;
// the loop exits after the current iteration.
func (a *GopherAdapter) handleSignals(fd int, ev reactor.Event) {
	for {
		sig, ok := a.signals.Next()
		if !ok {
			return
		}
		switch sigqueue.Classify(sig) {
		case sigqueue.ActionQuit:
			logger.Info("Received %v, stopping", sig)
			a.quit.Store(true)
		case sigqueue.ActionLog:
			logger.Info("Received %v, ignoring", sig)
		default:
			logger.Debug("Received unhandled signal %v", sig)
		}
	}
}

// removeConn is called by a connection's teardown.
func (a *GopherAdapter) removeConn(c *conn, reason string) {
	delete(a.conns, c.fd)
	count := a.connCount.Add(-1)
	a.metrics.RecordConnectionClosed(reason)
	a.metrics.SetActiveConnections(int(count))
}

func (a *GopherAdapter) logMetrics(stop <-chan struct{}) {
	ticker := time.NewTicker(a.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			logger.Info("Gopher metrics: active_connections=%d", a.connCount.Load())
		}
	}
}

// Ready is closed once the listener is bound and the reactor is running.
func (a *GopherAdapter) Ready() <-chan struct{} {
	return a.ready
}

// BoundPort returns the port actually bound, which differs from Port when
// Port is 0. Valid after Ready.
func (a *GopherAdapter) BoundPort() int {
	return int(a.boundPort.Load())
}

// ActiveConnections returns the number of open connections.
func (a *GopherAdapter) ActiveConnections() int32 {
	return a.connCount.Load()
}

// Port returns the configured port.
func (a *GopherAdapter) Port() int {
	return a.config.Port
}

// Protocol returns "gopher".
func (a *GopherAdapter) Protocol() string {
	return "gopher"
}
