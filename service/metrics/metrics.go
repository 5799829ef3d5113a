package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// TON provider API metrics
	tonAPICallsTotal          *prometheus.CounterVec
	tonAPICallDuration        *prometheus.HistogramVec
	tonAPITransactionsPerCall *prometheus.HistogramVec

	// Classification metrics
	depositsAcceptedTotal *prometheus.CounterVec
	depositsRejectedTotal *prometheus.CounterVec

	// Sync cycle metrics
	syncCyclesTotal   *prometheus.CounterVec
	syncCycleDuration *prometheus.HistogramVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		tonAPICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ton_api_calls_total",
				Help: "Total number of TON provider API calls by method and status",
			},
			[]string{"method", "status", "provider"},
		),
		tonAPICallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ton_api_call_duration_seconds",
				Help:    "Duration of TON provider API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "provider"},
		),
		tonAPITransactionsPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ton_api_transactions_per_call",
				Help:    "Number of raw transactions returned per fetch call",
				Buckets: []float64{1, 5, 10, 20, 50, 100, 250},
			},
			[]string{"provider"},
		),

		depositsAcceptedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deposits_accepted_total",
				Help: "Total number of transactions classified as native deposits",
			},
			[]string{"account"},
		),
		depositsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deposits_rejected_total",
				Help: "Total number of transactions rejected by classification",
			},
			[]string{"account", "reason"},
		),

		syncCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_cycles_total",
				Help: "Total number of sync cycles by outcome",
			},
			[]string{"account", "status"},
		),
		syncCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_cycle_duration_seconds",
				Help:    "Duration of sync cycles in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"account", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// TON provider API metric helpers

// RecordAPICall records a provider API call with duration.
func (m *Metrics) RecordAPICall(method, status, provider string, duration float64) {
	m.tonAPICallsTotal.WithLabelValues(method, status, provider).Inc()
	m.tonAPICallDuration.WithLabelValues(method, provider).Observe(duration)
}

// RecordTransactionsPerCall records the number of raw transactions fetched.
func (m *Metrics) RecordTransactionsPerCall(provider string, count float64) {
	m.tonAPITransactionsPerCall.WithLabelValues(provider).Observe(count)
}

// Classification metric helpers

// RecordDepositAccepted records a transaction accepted as a native deposit.
func (m *Metrics) RecordDepositAccepted(account string) {
	m.depositsAcceptedTotal.WithLabelValues(account).Inc()
}

// RecordDepositRejected records a transaction rejected by classification.
func (m *Metrics) RecordDepositRejected(account, reason string) {
	m.depositsRejectedTotal.WithLabelValues(account, reason).Inc()
}

// Sync cycle metric helpers

// RecordSyncCycle records a completed sync cycle with duration.
func (m *Metrics) RecordSyncCycle(account, status string, duration float64) {
	m.syncCyclesTotal.WithLabelValues(account, status).Inc()
	m.syncCycleDuration.WithLabelValues(account, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// statusCodeToString converts an HTTP status code to its class label
// ("2xx", "4xx", "5xx") to keep label cardinality low.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
