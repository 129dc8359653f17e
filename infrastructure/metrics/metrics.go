// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxlabs/flux/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Ingestion metrics
	EventsIngestedTotal  *prometheus.CounterVec
	EventsRejectedTotal  *prometheus.CounterVec
	IngestLatency        *prometheus.HistogramVec

	// State engine metrics
	EntitiesLive          prometheus.Gauge
	StateUpdatesTotal      prometheus.Counter
	BroadcastDroppedTotal  prometheus.Counter
	LastProcessedSequence  prometheus.Gauge

	// Snapshot metrics
	SnapshotsTotal   *prometheus.CounterVec
	SnapshotDuration prometheus.Histogram

	// WebSocket metrics
	WSConnectionsActive prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Ingestion metrics
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_events_ingested_total",
				Help: "Total number of events accepted by the ingestion API",
			},
			[]string{"stream"},
		),
		EventsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_events_rejected_total",
				Help: "Total number of events rejected by the ingestion API, by reason",
			},
			[]string{"reason"},
		),
		IngestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flux_ingest_latency_seconds",
				Help:    "Latency of accepted event ingestion, from request to log append ack",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stream"},
		),

		// State engine metrics
		EntitiesLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flux_entities_live",
				Help: "Current number of live entities in the state engine",
			},
		),
		StateUpdatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flux_state_updates_total",
				Help: "Total number of property updates applied to the entity map",
			},
		),
		BroadcastDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flux_broadcast_dropped_total",
				Help: "Total number of broadcast messages dropped because a subscriber's channel was full",
			},
		),
		LastProcessedSequence: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flux_last_processed_sequence",
				Help: "The state engine's last processed log sequence number",
			},
		),

		// Snapshot metrics
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_snapshots_total",
				Help: "Total number of snapshot attempts, by outcome",
			},
			[]string{"outcome"},
		),
		SnapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flux_snapshot_duration_seconds",
				Help:    "Duration of snapshot capture plus write",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
			},
		),

		// WebSocket metrics
		WSConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flux_ws_connections_active",
				Help: "Current number of active WebSocket subscription connections",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.EventsIngestedTotal,
			m.EventsRejectedTotal,
			m.IngestLatency,
			m.EntitiesLive,
			m.StateUpdatesTotal,
			m.BroadcastDroppedTotal,
			m.LastProcessedSequence,
			m.SnapshotsTotal,
			m.SnapshotDuration,
			m.WSConnectionsActive,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordIngested records a successfully ingested event.
func (m *Metrics) RecordIngested(stream string, latency time.Duration) {
	m.EventsIngestedTotal.WithLabelValues(stream).Inc()
	m.IngestLatency.WithLabelValues(stream).Observe(latency.Seconds())
}

// RecordRejected records an event rejected during ingestion, by reason
// (validation, too_large, unauthorized, forbidden, rate_limited, log_error).
func (m *Metrics) RecordRejected(reason string) {
	m.EventsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordSnapshot records the outcome ("ok" or "error") of a snapshot attempt.
func (m *Metrics) RecordSnapshot(outcome string, duration time.Duration) {
	m.SnapshotsTotal.WithLabelValues(outcome).Inc()
	m.SnapshotDuration.Observe(duration.Seconds())
}

// SetEntitiesLive sets the current live entity count.
func (m *Metrics) SetEntitiesLive(count int) {
	m.EntitiesLive.Set(float64(count))
}

// SetLastProcessedSequence records the state engine's processed sequence.
func (m *Metrics) SetLastProcessedSequence(seq uint64) {
	m.LastProcessedSequence.Set(float64(seq))
}

// IncWSConnections increments the active WebSocket connection gauge.
func (m *Metrics) IncWSConnections() { m.WSConnectionsActive.Inc() }

// DecWSConnections decrements the active WebSocket connection gauge.
func (m *Metrics) DecWSConnections() { m.WSConnectionsActive.Dec() }

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
