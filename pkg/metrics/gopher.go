package metrics

import "time"

// GopherMetrics provides observability for the Gopher adapter.
//
// Implementations are called from the reactor goroutine on every connection
// transition, so they must not block. If no implementation is supplied to the
// adapter, the no-op implementation is used.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewGopherMetrics()
//	adapter := gopher.New(cfg, m)
//
//	// Without metrics (no-op)
//	adapter := gopher.New(cfg, nil)
type GopherMetrics interface {
	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	//
	// Parameters:
	//   - reason: why the connection ended ("done", "peer_closed",
	//     "too_large", "io_error", "shutdown")
	RecordConnectionClosed(reason string)

	// SetActiveConnections updates the current connection gauge.
	SetActiveConnections(count int)

	// RecordRequest records a dispatched selector.
	//
	// Parameters:
	//   - kind: what the selector resolved to ("directory", "file", "error")
	//   - duration: time spent resolving and opening the response source
	RecordRequest(kind string, duration time.Duration)

	// RecordBytesSent adds to the response bytes counter.
	RecordBytesSent(bytes int)

	// SetWorker publishes the identity of the running worker and how many
	// times the supervisor has restarted it.
	SetWorker(id string, restarts int)
}

// NewNoopGopherMetrics returns a GopherMetrics that discards everything.
func NewNoopGopherMetrics() GopherMetrics {
	return noopGopherMetrics{}
}

type noopGopherMetrics struct{}

func (noopGopherMetrics) RecordConnectionAccepted()           {}
func (noopGopherMetrics) RecordConnectionClosed(string)       {}
func (noopGopherMetrics) SetActiveConnections(int)            {}
func (noopGopherMetrics) RecordRequest(string, time.Duration) {}
func (noopGopherMetrics) RecordBytesSent(int)                 {}
func (noopGopherMetrics) SetWorker(string, int)               {}
