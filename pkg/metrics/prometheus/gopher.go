package prometheus

import (
	"os"
	"strconv"
	"time"

	"github.com/marmos91/gopherd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// gopherMetrics is the Prometheus implementation of metrics.GopherMetrics.
type gopherMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	bytesSent           prometheus.Counter
	workerInfo          *prometheus.GaugeVec
	workerRestarts      prometheus.Gauge
}

// NewGopherMetrics creates a Prometheus-backed GopherMetrics registered on
// the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewGopherMetrics() metrics.GopherMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopGopherMetrics()
	}
	return NewGopherMetricsWith(metrics.GetRegistry())
}

// NewGopherMetricsWith registers the collectors on reg.
func NewGopherMetricsWith(reg prometheus.Registerer) metrics.GopherMetrics {
	return &gopherMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gopherd_connections_accepted_total",
				Help: "Total number of Gopher connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopherd_connections_closed_total",
				Help: "Total number of Gopher connections closed, by reason",
			},
			[]string{"reason"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gopherd_active_connections",
				Help: "Current number of open Gopher connections",
			},
		),
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopherd_requests_total",
				Help: "Total number of dispatched selectors by resolved kind",
			},
			[]string{"kind"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gopherd_dispatch_duration_seconds",
				Help: "Time spent resolving a selector and opening its response",
				Buckets: []float64{
					0.0001, // 100us
					0.0005, // 500us
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
				},
			},
			[]string{"kind"},
		),
		bytesSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gopherd_response_bytes_total",
				Help: "Total response bytes written to clients",
			},
		),
		workerInfo: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gopherd_worker_info",
				Help: "Identity of the running worker process (always 1)",
			},
			[]string{"worker_id", "pid"},
		),
		workerRestarts: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gopherd_worker_restarts",
				Help: "Number of times the supervisor restarted the worker before this one",
			},
		),
	}
}

func (m *gopherMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *gopherMetrics) RecordConnectionClosed(reason string) {
	m.connectionsClosed.WithLabelValues(reason).Inc()
}

func (m *gopherMetrics) SetActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

func (m *gopherMetrics) RecordRequest(kind string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(kind).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *gopherMetrics) RecordBytesSent(bytes int) {
	m.bytesSent.Add(float64(bytes))
}

func (m *gopherMetrics) SetWorker(id string, restarts int) {
	m.workerInfo.Reset()
	m.workerInfo.WithLabelValues(id, strconv.Itoa(os.Getpid())).Set(1)
	m.workerRestarts.Set(float64(restarts))
}
