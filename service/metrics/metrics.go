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
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Decode Metrics
	decodeTransactionsTotal  *prometheus.CounterVec
	decodeEventsTotal        *prometheus.CounterVec
	decodeStageDuration      *prometheus.HistogramVec
	unparsedInstructionTotal *prometheus.CounterVec
	qcTagsTotal              *prometheus.CounterVec

	// Batch Metrics
	batchChunksTotal       *prometheus.CounterVec
	batchChunkDuration     *prometheus.HistogramVec
	batchTransactionsTotal *prometheus.CounterVec
	deadLettersTotal       *prometheus.CounterVec
	dumpsDetectedTotal     prometheus.Counter

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
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Decode Metrics
		decodeTransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decode_transactions_total",
				Help: "Total number of transactions decoded by outcome",
			},
			[]string{"outcome"},
		),
		decodeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decode_events_total",
				Help: "Total number of enriched events by type and QC status",
			},
			[]string{"event_type", "qc_status"},
		),
		decodeStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decode_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"stage"},
		),
		unparsedInstructionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decode_unparsed_instructions_total",
				Help: "Total number of instructions no parser understood, by program id",
			},
			[]string{"program_id"},
		),
		qcTagsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decode_qc_tags_total",
				Help: "Total number of QC tags attached to events",
			},
			[]string{"tag"},
		),

		// Batch Metrics
		batchChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_chunks_total",
				Help: "Total number of reprocessing chunks by status",
			},
			[]string{"status"},
		),
		batchChunkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batch_chunk_duration_seconds",
				Help:    "Duration of one reprocessing chunk in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		batchTransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_transactions_total",
				Help: "Total number of transactions handled by the batch driver",
			},
			[]string{"result"},
		),
		deadLettersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dead_letters_total",
				Help: "Total number of transactions written to the dead-letter store",
			},
			[]string{"reason"},
		),
		dumpsDetectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dumps_detected_total",
				Help: "Total number of price dumps flagged",
			},
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

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Decode metric helpers

// RecordDecode records the outcome of one transaction decode.
func (m *Metrics) RecordDecode(outcome string) {
	m.decodeTransactionsTotal.WithLabelValues(outcome).Inc()
}

// RecordEvent records one enriched event.
func (m *Metrics) RecordEvent(eventType, qcStatus string) {
	m.decodeEventsTotal.WithLabelValues(eventType, qcStatus).Inc()
}

// RecordStage records the duration of a pipeline stage.
func (m *Metrics) RecordStage(stage string, duration float64) {
	m.decodeStageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordUnparsed records an instruction no parser understood.
func (m *Metrics) RecordUnparsed(programID string) {
	m.unparsedInstructionTotal.WithLabelValues(programID).Inc()
}

// RecordQCTag records a QC tag attached to an event.
func (m *Metrics) RecordQCTag(tag string) {
	m.qcTagsTotal.WithLabelValues(tag).Inc()
}

// Batch metric helpers

// RecordBatchChunk records one processed reprocessing chunk.
func (m *Metrics) RecordBatchChunk(status string, duration float64) {
	m.batchChunksTotal.WithLabelValues(status).Inc()
	m.batchChunkDuration.WithLabelValues(status).Observe(duration)
}

// RecordBatchTransactions records transactions handled by the batch driver.
func (m *Metrics) RecordBatchTransactions(result string, count int) {
	m.batchTransactionsTotal.WithLabelValues(result).Add(float64(count))
}

// RecordDeadLetter records a transaction written to the dead-letter store.
func (m *Metrics) RecordDeadLetter(reason string) {
	m.deadLettersTotal.WithLabelValues(reason).Inc()
}

// RecordDumps records flagged price dumps.
func (m *Metrics) RecordDumps(count int) {
	m.dumpsDetectedTotal.Add(float64(count))
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
