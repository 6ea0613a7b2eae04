package adapter

import (
	"context"
)

// Adapter is a network service managed by the worker's server runtime.
//
// The worker runs the Gopher adapter and, when enabled, the metrics HTTP
// server through this interface. All adapters share one lifecycle: they start
// together, and the failure of one stops the others.
//
// Lifecycle:
//  1. Creation: Adapter is created with its own configuration
//  2. Startup: Serve() binds and blocks until shutdown
//  3. Shutdown: Stop() or context cancellation ends Serve()
//
// Thread safety:
// Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the service and blocks until the context is cancelled or
	// an unrecoverable error occurs.
	//
	// A failure to bind must be returned, not logged: the worker turns it into
	// a fatal exit status so the supervisor does not restart in a loop.
	//
	// Returns:
	//   - nil or context.Canceled on graceful shutdown
	//   - error if startup fails or the service dies
	Serve(ctx context.Context) error

	// Stop initiates shutdown. It must be idempotent and safe to call
	// concurrently with Serve(). ctx bounds how long Stop may wait.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable service name for logging and metrics.
	//
	// Examples: "gopher", "metrics"
	Protocol() string

	// Port returns the configured TCP port. 0 means an ephemeral port chosen
	// at bind time.
	Port() int
}
