package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Action Metrics
	actionRequestsTotal      *prometheus.CounterVec
	actionDuration           *prometheus.HistogramVec
	transactionsAssembled    *prometheus.CounterVec
	transactionAttemptsTotal *prometheus.CounterVec

	// Blink lifecycle Metrics
	blinksCreatedTotal      *prometheus.CounterVec
	paymentConfirmations    *prometheus.CounterVec
	paymentWorkflowDuration *prometheus.HistogramVec
	paymentActivityDuration *prometheus.HistogramVec
	tokenInfoLookupsTotal   *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
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
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Action Metrics
		actionRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blink_action_requests_total",
				Help: "Total number of action requests by kind, operation and outcome",
			},
			[]string{"kind", "operation", "outcome"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blink_action_duration_seconds",
				Help:    "Duration of action resolution and execution in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"kind", "operation"},
		),
		transactionsAssembled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blink_transactions_assembled_total",
				Help: "Total number of unsigned transactions assembled",
			},
			[]string{"kind", "asset", "commission"},
		),
		transactionAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blink_transaction_attempts_total",
				Help: "Total number of transaction attempt records written",
			},
			[]string{"kind", "status"},
		),

		// Blink lifecycle Metrics
		blinksCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blinks_created_total",
				Help: "Total number of Blinks created",
			},
			[]string{"kind"},
		),
		paymentConfirmations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blink_payment_confirmations_total",
				Help: "Total number of creation-fee confirmations by result",
			},
			[]string{"status"},
		),
		paymentWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blink_payment_workflow_duration_seconds",
				Help:    "Duration of payment confirmation workflows in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		paymentActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blink_payment_activity_duration_seconds",
				Help:    "Duration of payment confirmation activities in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"activity"},
		),
		tokenInfoLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_info_lookups_total",
				Help: "Total number of token metadata lookups by source and status",
			},
			[]string{"source", "status"},
		),

		// Database Metrics
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

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
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

		// NATS Metrics
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

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Action metric helpers

// RecordActionRequest records a resolved or executed action. Outcome is
// "ok" or an error kind.
func (m *Metrics) RecordActionRequest(kind, operation, outcome string, duration float64) {
	m.actionRequestsTotal.WithLabelValues(kind, operation, outcome).Inc()
	m.actionDuration.WithLabelValues(kind, operation).Observe(duration)
}

// RecordTransactionAssembled records an assembled unsigned transaction.
func (m *Metrics) RecordTransactionAssembled(kind, asset string, commission bool) {
	c := "false"
	if commission {
		c = "true"
	}
	m.transactionsAssembled.WithLabelValues(kind, asset, c).Inc()
}

// RecordTransactionAttempt records a transaction attempt write.
func (m *Metrics) RecordTransactionAttempt(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.transactionAttemptsTotal.WithLabelValues(kind, status).Inc()
}

// Blink lifecycle metric helpers

// RecordBlinkCreated records a newly created Blink.
func (m *Metrics) RecordBlinkCreated(kind string) {
	m.blinksCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordPaymentConfirmation records the result of a creation-fee check.
func (m *Metrics) RecordPaymentConfirmation(status string) {
	m.paymentConfirmations.WithLabelValues(status).Inc()
}

// RecordWorkflowDuration records payment workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.paymentWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.paymentActivityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordTokenInfoLookup records a token metadata lookup.
func (m *Metrics) RecordTokenInfoLookup(source, status string) {
	m.tokenInfoLookupsTotal.WithLabelValues(source, status).Inc()
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

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
