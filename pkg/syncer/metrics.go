package syncer

import "time"

// Metrics receives queue lifecycle observations. Implementations must be
// safe for concurrent use.
type Metrics interface {
	// TaskEnqueued counts one task added to the queue.
	TaskEnqueued()

	// TaskCompleted records one successfully finished task and its total
	// time from enqueue to completion.
	TaskCompleted(queueTime time.Duration)

	// TaskFailed counts one task marked permanently failed.
	TaskFailed()

	// TaskRequeued counts one automatic retry requeue.
	TaskRequeued()

	// SetQueueDepth reports the current number of pending tasks.
	SetQueueDepth(n int)
}

type noopMetrics struct{}

func (noopMetrics) TaskEnqueued()                 {}
func (noopMetrics) TaskCompleted(time.Duration)   {}
func (noopMetrics) TaskFailed()                   {}
func (noopMetrics) TaskRequeued()                 {}
func (noopMetrics) SetQueueDepth(int)             {}
