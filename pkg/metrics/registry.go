// Package metrics holds the worker's Prometheus registry, the collector
// interfaces the Gopher adapter records into and the HTTP endpoint that
// exposes them.
//
// Collection is off until InitRegistry runs. Until then the constructors in
// metrics/prometheus hand out no-op collectors and /metrics answers 503.
// Only workers collect; the supervisor passes its restart count down through
// the environment and the worker publishes it.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry enables collection for this worker. The registry starts with
// the process and Go runtime collectors so every worker generation reports
// its own file descriptors, memory and goroutines. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "gopherd"}),
			collectors.NewGoCollector(),
		)
		registry = r
	})
}

// GetRegistry returns the worker registry, or nil while collection is off.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
