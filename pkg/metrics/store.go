package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics provides observability for storage core operations.
//
// This interface is optional - if not provided to the storage core,
// operations proceed without metrics collection (zero overhead).
type StoreMetrics interface {
	// RecordOperation records a completed storage operation with its name,
	// duration, and outcome.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "Create", "Update", "Move")
	//   - duration: Time taken to complete the operation
	//   - err: Error if operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordQuery records a served query with its type and the number of
	// records returned in the window.
	RecordQuery(queryType string, returned int, duration time.Duration)

	// RecordPayloadBytes records bytes moved through the payload store.
	RecordPayloadBytes(operation string, bytes int64)
}

// storeMetrics is the Prometheus implementation of StoreMetrics.
type storeMetrics struct {
	backend           string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	queriesTotal      *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	queryReturned     *prometheus.HistogramVec
	payloadBytes      *prometheus.CounterVec
}

// NewStoreMetrics creates a new Prometheus-backed StoreMetrics instance
// labelled with the payload backend in use ("fs", "s3").
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the storage core to skip metrics collection entirely.
func NewStoreMetrics(backend string) StoreMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &storeMetrics{
		backend: backend,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datamart_store_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "datamart_store_operation_duration_seconds",
				Help: "Duration of storage operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1,      // 1s
					5,      // 5s
				},
			},
			[]string{"backend", "operation"},
		),
		queriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datamart_queries_total",
				Help: "Total number of served queries",
			},
			[]string{"type"},
		),
		queryDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "datamart_query_duration_seconds",
				Help: "Duration of served queries in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1,     // 1s
					5,     // 5s
				},
			},
			[]string{"type"},
		),
		queryReturned: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datamart_query_returned_records",
				Help:    "Number of records returned per query window",
				Buckets: []float64{0, 1, 10, 50, 100, 500, 1000},
			},
			[]string{"type"},
		),
		payloadBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datamart_payload_bytes_total",
				Help: "Total bytes moved through the payload store",
			},
			[]string{"backend", "operation"},
		),
	}
}

func (m *storeMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(m.backend, operation, status).Inc()
	m.operationDuration.WithLabelValues(m.backend, operation).Observe(duration.Seconds())
}

func (m *storeMetrics) RecordQuery(queryType string, returned int, duration time.Duration) {
	m.queriesTotal.WithLabelValues(queryType).Inc()
	m.queryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	m.queryReturned.WithLabelValues(queryType).Observe(float64(returned))
}

func (m *storeMetrics) RecordPayloadBytes(operation string, bytes int64) {
	m.payloadBytes.WithLabelValues(m.backend, operation).Add(float64(bytes))
}
