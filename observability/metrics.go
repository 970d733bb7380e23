package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Authentication metrics
	AuthAttemptsTotal *prometheus.CounterVec
	AuthFailuresTotal *prometheus.CounterVec

	// Quota metrics
	QuotaChecksTotal   *prometheus.CounterVec
	QuotaRejectedTotal *prometheus.CounterVec

	// Chat metrics
	ChatRequestsTotal *prometheus.CounterVec
	ChatDuration      *prometheus.HistogramVec

	// Ingestion metrics
	IngestDocumentsTotal *prometheus.CounterVec
	IngestChunksTotal    *prometheus.CounterVec
	IngestDuration       *prometheus.HistogramVec

	// Upstream provider metrics
	UpstreamRequestsTotal *prometheus.CounterVec
	UpstreamErrorsTotal   *prometheus.CounterVec
	UpstreamDuration      *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// sizeBuckets are histogram buckets for response sizes (in bytes)
var sizeBuckets = []float64{100, 1_000, 10_000, 100_000, 1_000_000}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		AuthAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Total number of API key authentication attempts",
			},
			[]string{"result"},
		),
		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "auth",
				Name:      "failures_total",
				Help:      "Total number of authentication failures by reason",
			},
			[]string{"reason"},
		),
		QuotaChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "quota",
				Name:      "checks_total",
				Help:      "Total number of quota window checks",
			},
			[]string{"window"},
		),
		QuotaRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "quota",
				Name:      "rejected_total",
				Help:      "Total number of requests rejected by an exhausted window",
			},
			[]string{"window"},
		),
		ChatRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "chat",
				Name:      "requests_total",
				Help:      "Total number of chat requests by auth path and status",
			},
			[]string{"auth_path", "status"},
		),
		ChatDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tmai",
				Subsystem: "chat",
				Name:      "duration_seconds",
				Help:      "End-to-end chat request duration in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"status"},
		),
		IngestDocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "ingest",
				Name:      "documents_total",
				Help:      "Total number of ingested documents",
			},
			[]string{"status"},
		),
		IngestChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "ingest",
				Name:      "chunks_total",
				Help:      "Total number of chunks by insert outcome",
			},
			[]string{"outcome"},
		),
		IngestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tmai",
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Document ingestion duration in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"status"},
		),
		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Total number of upstream model API requests",
			},
			[]string{"provider", "operation"},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "upstream",
				Name:      "errors_total",
				Help:      "Total number of upstream model API errors",
			},
			[]string{"provider", "operation", "error_type"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tmai",
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Duration of upstream model API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"provider", "operation"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tmai",
				Subsystem: "database",
				Name:      "query_duration_seconds",
				Help:      "Duration of database queries in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"operation", "table"},
		),
		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "database",
				Name:      "errors_total",
				Help:      "Total number of database errors",
			},
			[]string{"operation", "table"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tmai",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tmai",
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   sizeBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tmai",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"breaker"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmai",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"breaker"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance, initializing it if needed
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		globalMetrics = NewMetrics(prometheus.NewRegistry())
	}
	return globalMetrics
}

// RecordAuthAttempt records an authentication attempt
func (m *Metrics) RecordAuthAttempt(result string) {
	m.AuthAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordAuthFailure records an authentication failure by reason
func (m *Metrics) RecordAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordQuotaCheck records a quota window check
func (m *Metrics) RecordQuotaCheck(window string) {
	m.QuotaChecksTotal.WithLabelValues(window).Inc()
}

// RecordQuotaRejection records a rejection by an exhausted window
func (m *Metrics) RecordQuotaRejection(window string) {
	m.QuotaRejectedTotal.WithLabelValues(window).Inc()
}

// RecordChatRequest records a chat request outcome
func (m *Metrics) RecordChatRequest(authPath, status string) {
	m.ChatRequestsTotal.WithLabelValues(authPath, status).Inc()
}

// RecordIngestDocument records an ingested document outcome
func (m *Metrics) RecordIngestDocument(status string) {
	m.IngestDocumentsTotal.WithLabelValues(status).Inc()
}

// RecordIngestChunks records chunk insert outcomes
func (m *Metrics) RecordIngestChunks(outcome string, n int) {
	m.IngestChunksTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordUpstreamRequest records an upstream model API request
func (m *Metrics) RecordUpstreamRequest(provider, operation string) {
	m.UpstreamRequestsTotal.WithLabelValues(provider, operation).Inc()
}

// RecordUpstreamError records an upstream model API error
func (m *Metrics) RecordUpstreamError(provider, operation, errorType string) {
	m.UpstreamErrorsTotal.WithLabelValues(provider, operation, errorType).Inc()
}

// RecordDBQuery records a database query duration
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordDBError records a database error
func (m *Metrics) RecordDBError(operation, table string) {
	m.DBErrorsTotal.WithLabelValues(operation, table).Inc()
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(breaker string, state int) {
	m.CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(breaker string) {
	m.CircuitBreakerTrips.WithLabelValues(breaker).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now
func (m *Metrics) NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveChat records the elapsed time as a chat duration
func (t *Timer) ObserveChat(status string) {
	GetMetrics().ChatDuration.WithLabelValues(status).Observe(time.Since(t.start).Seconds())
}

// ObserveIngest records the elapsed time as an ingestion duration
func (t *Timer) ObserveIngest(status string) {
	GetMetrics().IngestDuration.WithLabelValues(status).Observe(time.Since(t.start).Seconds())
}

// ObserveUpstream records the elapsed time as an upstream call duration
func (t *Timer) ObserveUpstream(provider, operation string) {
	GetMetrics().UpstreamDuration.WithLabelValues(provider, operation).Observe(time.Since(t.start).Seconds())
}

// ObserveDB records the elapsed time as a database query duration
func (t *Timer) ObserveDB(operation, table string) {
	GetMetrics().DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
