package config

import (
	"github.com/marmos91/gopherd/pkg/metrics"
	promMetrics "github.com/marmos91/gopherd/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// GopherMetrics is the collector for the Gopher adapter (never nil, uses noop if disabled)
	GopherMetrics metrics.GopherMetrics
}

// InitializeMetrics creates the metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and
// an HTTP server plus Prometheus-backed collectors are returned. Otherwise
// the server is nil and the collectors are no-ops.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server:        nil,
			GopherMetrics: metrics.NewNoopGopherMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:        server,
		GopherMetrics: promMetrics.NewGopherMetrics(),
	}
}
