package config

import (
	"github.com/marmos91/gopherd/pkg/adapter"
	"github.com/marmos91/gopherd/pkg/adapter/gopher"
	"github.com/marmos91/gopherd/pkg/metrics"
)

// CreateAdapters creates the worker's adapters from the configuration.
//
// The Gopher adapter is always created. The metrics server from
// InitializeMetrics is appended when metrics are enabled.
//
// Returns the Gopher adapter separately so the caller can attach the signal
// queue and the post-bind hook before serving.
func CreateAdapters(cfg *Config, m *MetricsResult) (*gopher.GopherAdapter, []adapter.Adapter) {
	var gm metrics.GopherMetrics
	if m != nil {
		gm = m.GopherMetrics
	}

	gopherAdapter := gopher.New(cfg.Adapters.Gopher, gm)
	adapters := []adapter.Adapter{gopherAdapter}

	if m != nil && m.Server != nil {
		adapters = append(adapters, m.Server)
	}
	return gopherAdapter, adapters
}
