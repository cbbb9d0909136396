package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/functionland/fulasync/pkg/store/state"
	"github.com/functionland/fulasync/pkg/transfer"
)

// transferMetrics is the Prometheus implementation of transfer.Metrics.
type transferMetrics struct {
	transfersTotal   *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	transferBytes    *prometheus.HistogramVec
	partRetriesTotal prometheus.Counter
}

// NewTransferMetrics creates a Prometheus-backed transfer.Metrics instance.
//
// Returns nil if metrics are not enabled, which causes the transfer engine
// to use its built-in no-op implementation.
func NewTransferMetrics() transfer.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &transferMetrics{
		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulasync_transfers_total",
				Help: "Total number of transfers by direction and status",
			},
			[]string{"direction", "status"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fulasync_transfer_duration_seconds",
				Help: "Duration of whole transfers in seconds",
				Buckets: []float64{
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					15.0,  // 15s
					60.0,  // 1min
					300.0, // 5min
				},
			},
			[]string{"direction"},
		),
		transferBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fulasync_transfer_bytes",
				Help: "Wire size of transfers in bytes by direction",
				Buckets: []float64{
					4096,       // 4KB
					65536,      // 64KB
					1048576,    // 1MB
					5242880,    // 5MB
					52428800,   // 50MB
					524288000,  // 500MB
					1073741824, // 1GB
				},
			},
			[]string{"direction"},
		),
		partRetriesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fulasync_transfer_part_retries_total",
				Help: "Total number of retried multipart parts",
			},
		),
	}
}

// ObserveTransfer implements transfer.Metrics.ObserveTransfer
func (m *transferMetrics) ObserveTransfer(direction state.Direction, bytes int64, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.transfersTotal.WithLabelValues(string(direction), status).Inc()
	m.transferDuration.WithLabelValues(string(direction)).Observe(duration.Seconds())
	if bytes > 0 {
		m.transferBytes.WithLabelValues(string(direction)).Observe(float64(bytes))
	}
}

// IncPartRetry implements transfer.Metrics.IncPartRetry
func (m *transferMetrics) IncPartRetry() {
	m.partRetriesTotal.Inc()
}
