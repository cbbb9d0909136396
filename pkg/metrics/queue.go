package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/functionland/fulasync/pkg/syncer"
)

// queueMetrics is the Prometheus implementation of syncer.Metrics.
type queueMetrics struct {
	tasksTotal *prometheus.CounterVec
	queueTime  prometheus.Histogram
	queueDepth prometheus.Gauge
}

// NewQueueMetrics creates a Prometheus-backed syncer.Metrics instance.
//
// Returns nil if metrics are not enabled, which causes the queue to use
// its built-in no-op implementation.
func NewQueueMetrics() syncer.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &queueMetrics{
		tasksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulasync_queue_tasks_total",
				Help: "Total number of queue task events by outcome",
			},
			[]string{"outcome"}, // enqueued, completed, failed, requeued
		),
		queueTime: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "fulasync_queue_task_time_seconds",
				Help: "Time from enqueue to completion in seconds",
				Buckets: []float64{
					0.1,    // 100ms
					1.0,    // 1s
					10.0,   // 10s
					60.0,   // 1min
					600.0,  // 10min
					3600.0, // 1h
				},
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fulasync_queue_depth",
				Help: "Current number of pending tasks",
			},
		),
	}
}

// TaskEnqueued implements syncer.Metrics.TaskEnqueued
func (m *queueMetrics) TaskEnqueued() {
	m.tasksTotal.WithLabelValues("enqueued").Inc()
}

// TaskCompleted implements syncer.Metrics.TaskCompleted
func (m *queueMetrics) TaskCompleted(queueTime time.Duration) {
	m.tasksTotal.WithLabelValues("completed").Inc()
	m.queueTime.Observe(queueTime.Seconds())
}

// TaskFailed implements syncer.Metrics.TaskFailed
func (m *queueMetrics) TaskFailed() {
	m.tasksTotal.WithLabelValues("failed").Inc()
}

// TaskRequeued implements syncer.Metrics.TaskRequeued
func (m *queueMetrics) TaskRequeued() {
	m.tasksTotal.WithLabelValues("requeued").Inc()
}

// SetQueueDepth implements syncer.Metrics.SetQueueDepth
func (m *queueMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
