package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/functionland/fulasync/pkg/store/object"
)

// objectMetrics is the Prometheus implementation of object.Metrics.
//
// Collects per-operation counts, latency, error rates, and bytes moved
// against the object store backend.
type objectMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

// NewObjectMetrics creates a Prometheus-backed object.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the object client to use its built-in no-op implementation.
func NewObjectMetrics() object.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &objectMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulasync_object_operations_total",
				Help: "Total number of object store operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fulasync_object_operation_duration_seconds",
				Help: "Duration of object store operations in seconds",
				Buckets: []float64{
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
					10.0,  // 10s
					30.0,  // 30s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulasync_object_bytes_transferred_total",
				Help: "Total bytes transferred in object store operations",
			},
			[]string{"operation"},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulasync_object_errors_total",
				Help: "Total number of object store operation errors by operation type",
			},
			[]string{"operation"},
		),
	}
}

// RecordOperation implements object.Metrics.RecordOperation
func (m *objectMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(operation).Inc()
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes implements object.Metrics.RecordBytes
func (m *objectMetrics) RecordBytes(operation string, bytes int64) {
	m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
}
