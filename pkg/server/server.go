package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/pkg/adapter"
)

// DefaultShutdownTimeout bounds how long Serve waits for adapters to stop.
const DefaultShutdownTimeout = 30 * time.Second

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("server: Serve has already been called")

// Server manages the lifecycle of the worker's adapters.
//
// The worker always runs the Gopher adapter and optionally the metrics HTTP
// server. They share one fate: as soon as any adapter's Serve returns, the
// others are stopped. This lets a quit signal handled inside the Gopher
// reactor end the whole worker, and lets a bind failure of either adapter
// surface as the worker's exit status.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: AddAdapter() for each service
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation or the first adapter to return
//
// Example usage:
//
//	srv := server.New(cfg.Server.ShutdownTimeout)
//	srv.AddAdapter(gopher.New(cfg.Adapters.Gopher, m))
//	srv.AddAdapter(metricsServer)
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    os.Exit(1)
//	}
type Server struct {
	// adapters contains all registered adapters
	adapters []adapter.Adapter

	// stopTimeout bounds the Stop() calls issued during shutdown
	stopTimeout time.Duration

	// mu protects adapters and served
	mu     sync.Mutex
	served bool
}

// New creates a Server. A non-positive stopTimeout selects DefaultShutdownTimeout.
func New(stopTimeout time.Duration) *Server {
	if stopTimeout <= 0 {
		stopTimeout = DefaultShutdownTimeout
	}
	return &Server{
		adapters:    make([]adapter.Adapter, 0, 2),
		stopTimeout: stopTimeout,
	}
}

// AddAdapter registers an adapter to be started by Serve.
//
// Returns an error if another adapter already uses the same protocol name or
// the same non-zero port.
//
// Panics if:
//   - adapter is nil (programmer error)
//   - Serve() has already been called
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Port 0 means ephemeral and never conflicts.
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Debug("Registered %s adapter on port %d", protocol, port)
	return nil
}

// adapterResult pairs an adapter protocol name with how its Serve returned.
type adapterResult struct {
	protocol string
	err      error
}

// Serve starts all adapters and blocks until the context is cancelled or the
// first adapter returns.
//
// Returns:
//   - ctx.Err() if shutdown was triggered by context cancellation
//   - nil if an adapter stopped cleanly on its own (e.g. a quit signal)
//   - the adapter's error, wrapped, if an adapter failed
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Debug("Starting %d adapter(s)", len(adapters))

	// Buffered so every adapter goroutine can report without blocking.
	results := make(chan adapterResult, len(adapters))

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			err := a.Serve(serveCtx)
			results <- adapterResult{protocol: a.Protocol(), err: err}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case res := <-results:
		switch {
		case ctx.Err() != nil:
			logger.Info("Shutdown requested (reason: %v)", ctx.Err())
			shutdownErr = ctx.Err()
		case res.err == nil:
			logger.Info("%s adapter stopped, shutting down remaining adapters", res.protocol)
		default:
			logger.Error("%s adapter failed: %v", res.protocol, res.err)
			shutdownErr = fmt.Errorf("%s adapter: %w", res.protocol, res.err)
		}
	}

	cancel()
	s.stopAllAdapters(adapters)
	wg.Wait()

	// Drain the remaining results for logging.
	close(results)
	for res := range results {
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			logger.Warn("%s adapter returned during shutdown: %v", res.protocol, res.err)
		}
	}

	logger.Debug("All adapters stopped")
	return shutdownErr
}

// stopAllAdapters stops adapters in reverse registration order, each bounded
// by stopTimeout.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
