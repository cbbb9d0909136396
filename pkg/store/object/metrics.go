package object

import (
	"context"
	"time"
)

// Metrics receives per-operation latency and byte counters from the client.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// RecordOperation records one S3 API call with its duration and outcome.
	RecordOperation(op string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by an operation.
	RecordBytes(op string, n int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                    {}

// observe times a single S3 call and reports it to the metrics sink.
func (c *Client) observe(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	out, err := fn(ctx)
	c.metrics.RecordOperation(op, time.Since(start), err)
	return out, err
}
