package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
)

const namespace = "diplomacy"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Bridge metrics
	Submits           *prometheus.CounterVec
	PayloadBytes      prometheus.Histogram
	Retrievals        prometheus.Counter
	Releases          *prometheus.CounterVec
	Sends             prometheus.Counter
	InternalFaults    prometheus.Counter
	LoanHoldDuration  prometheus.Histogram
	RegistryCreatedAt prometheus.Gauge

	// Dispatcher metrics
	Dispatched       *prometheus.CounterVec
	DispatchDuration prometheus.Histogram

	// HTTP metrics (admin server)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	issued loanClock
}

// NewMetrics creates a metrics collector on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Submits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submits_total",
				Help:      "Envoy submissions by resulting status",
			},
			[]string{"status"},
		),
		PayloadBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payload_bytes",
				Help:      "Size of accepted envoy payloads",
				Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
			},
		),
		Retrievals: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrievals_total",
				Help:      "Buffers handed to the caller",
			},
		),
		Releases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "releases_total",
				Help:      "Release calls by outcome (ok, violation)",
			},
			[]string{"outcome"},
		),
		Sends: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sends_total",
				Help:      "Managed-side messages posted to the caller",
			},
		),
		InternalFaults: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "internal_faults_total",
				Help:      "Faults contained outside of submit",
			},
		),
		LoanHoldDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loan_hold_seconds",
				Help:      "Time between retrieve and release of a buffer",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
		),
		RegistryCreatedAt: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_created_timestamp_seconds",
				Help:      "Unix time the registry was initialized",
			},
		),

		Dispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatched_total",
				Help:      "Inbound envoys processed by the dispatcher, by result",
			},
			[]string{"result"},
		),
		DispatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Handler duration per inbound envoy",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_http_requests_total",
				Help:      "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admin_http_request_duration_seconds",
				Help:      "Admin HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}
}

// Registry returns the private registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchBridge registers gauges that read queue occupancy and outstanding
// loans from b on every scrape.
func (m *Metrics) WatchBridge(b *envoy.Bridge) {
	factory := promauto.With(m.registry)

	for _, queue := range []string{envoy.IncomingQueue, envoy.OutgoingQueue} {
		queue := queue
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "queue_depth",
				Help:        "Reserved slots per queue",
				ConstLabels: prometheus.Labels{"queue": queue},
			},
			func() float64 { return float64(queueStats(b.Stats(), queue).Depth) },
		)
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "queue_capacity",
				Help:        "Configured bound per queue",
				ConstLabels: prometheus.Labels{"queue": queue},
			},
			func() float64 { return float64(queueStats(b.Stats(), queue).Capacity) },
		)
	}
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_loans",
			Help:      "Buffers currently owned by the caller",
		},
		func() float64 { return float64(b.Stats().ActiveLoans) },
	)
}

func queueStats(s envoy.Stats, queue string) envoy.QueueStats {
	if queue == envoy.IncomingQueue {
		return s.Incoming
	}
	return s.Outgoing
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records one dispatcher outcome
func (m *Metrics) RecordDispatch(result string, duration time.Duration) {
	m.Dispatched.WithLabelValues(result).Inc()
	if duration > 0 {
		m.DispatchDuration.Observe(duration.Seconds())
	}
}
