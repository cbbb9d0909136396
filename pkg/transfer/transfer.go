// Package transfer moves file content between local disk and the object
// store. It handles single-shot and multipart transfers, client-side
// encryption, per-part retries, and progress reporting.
//
// The engine is stateless between calls apart from the multipart session
// records it persists, so a crash mid-upload leaves enough state behind for
// CleanupAbandoned to abort the orphaned upload on the next start.
package transfer

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"sync"
	"time"

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/internal/ratelimiter"
	"github.com/functionland/fulasync/pkg/store/object"
	"github.com/functionland/fulasync/pkg/store/state"
)

const (
	// DefaultMultipartThreshold is the payload size at which uploads switch
	// from a single PutObject to the multipart API.
	DefaultMultipartThreshold = 5 * 1024 * 1024

	// DefaultPartSize is the plaintext bytes carried per multipart part.
	DefaultPartSize = 5 * 1024 * 1024

	// DefaultPartConcurrency bounds concurrent part uploads per transfer.
	DefaultPartConcurrency = 3

	// DefaultPartRetries is how many times a failed part is retried before
	// the whole transfer fails.
	DefaultPartRetries = 3

	// DefaultPartRetryDelay is the pause before retrying a failed part.
	DefaultPartRetryDelay = 250 * time.Millisecond

	// DefaultRequestTimeout bounds each individual object-store request.
	DefaultRequestTimeout = 2 * time.Minute
)

// Config holds the transfer engine tunables.
type Config struct {
	// MultipartThreshold is the size in bytes above which uploads use the
	// multipart API. Zero means DefaultMultipartThreshold.
	MultipartThreshold int64 `mapstructure:"multipart_threshold"`

	// PartSize is the plaintext part size in bytes. Zero means
	// DefaultPartSize.
	PartSize int64 `mapstructure:"part_size"`

	// PartConcurrency bounds concurrent part uploads within one transfer.
	// Zero means DefaultPartConcurrency.
	PartConcurrency int `mapstructure:"part_concurrency"`

	// PartRetries is the per-part retry budget. Zero means
	// DefaultPartRetries.
	PartRetries int `mapstructure:"part_retries"`

	// PartRetryDelay is the pause between part retries. Zero means
	// DefaultPartRetryDelay.
	PartRetryDelay time.Duration `mapstructure:"part_retry_delay"`

	// BandwidthLimit caps sustained wire throughput in bytes per second
	// across all transfers on this engine. Zero means unlimited.
	BandwidthLimit int64 `mapstructure:"bandwidth_limit"`

	// RequestTimeout bounds each individual object-store request so one
	// stalled connection cannot wedge a worker. A request exceeding it
	// fails with context.DeadlineExceeded, which the part and task retry
	// paths treat as transient. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

func (c Config) withDefaults() Config {
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = DefaultMultipartThreshold
	}
	if c.PartSize <= 0 {
		c.PartSize = DefaultPartSize
	}
	if c.PartConcurrency <= 0 {
		c.PartConcurrency = DefaultPartConcurrency
	}
	if c.PartRetries <= 0 {
		c.PartRetries = DefaultPartRetries
	}
	if c.PartRetryDelay <= 0 {
		c.PartRetryDelay = DefaultPartRetryDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// ProgressFunc receives transfer progress updates. transferred counts wire
// bytes moved so far; total is the expected wire size of the transfer.
// Updates for one task are monotonically non-decreasing.
type ProgressFunc func(taskID string, transferred, total int64)

// Result summarizes a completed transfer.
type Result struct {
	// BytesTransferred is the number of wire bytes moved.
	BytesTransferred int64

	// Encrypted reports whether the payload was encrypted on the wire.
	Encrypted bool

	// ETag is the object ETag for uploads, empty for downloads.
	ETag string
}

// Engine performs uploads and downloads against the object store.
//
// Thread Safety: Safe for concurrent use. Each transfer tracks its own
// progress state; the engine itself holds only immutable configuration.
type Engine struct {
	objects  *object.Client
	sessions state.Store
	cfg      Config
	metrics  Metrics
	progress ProgressFunc

	// bandwidth is nil when no limit is configured.
	bandwidth *ratelimiter.BandwidthLimiter
}

// NewEngine creates a transfer engine.
//
// Parameters:
//   - objects: the object store client. Required.
//   - sessions: durable store for multipart session records. Required.
//   - cfg: engine tunables; zero values take defaults.
//   - metrics: transfer metrics sink. May be nil.
//   - progress: progress callback. May be nil.
func NewEngine(objects *object.Client, sessions state.Store, cfg Config, metrics Metrics, progress ProgressFunc) (*Engine, error) {
	if objects == nil {
		return nil, fmt.Errorf("object client is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	cfg = cfg.withDefaults()
	return &Engine{
		objects:   objects,
		sessions:  sessions,
		cfg:       cfg,
		metrics:   metrics,
		progress:  progress,
		bandwidth: ratelimiter.New(cfg.BandwidthLimit, 2*cfg.PartSize),
	}, nil
}

// requestCtx bounds one object-store request. Bandwidth waits are not
// covered; only the wire call is.
func (e *Engine) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.RequestTimeout)
}

// progressTracker coalesces part-level progress into monotonic callback
// invocations for one transfer.
type progressTracker struct {
	mu          sync.Mutex
	taskID      string
	total       int64
	transferred int64
	emit        ProgressFunc
}

func (e *Engine) newTracker(taskID string, total int64) *progressTracker {
	return &progressTracker{taskID: taskID, total: total, emit: e.progress}
}

// add records n more transferred bytes and fires the callback.
func (p *progressTracker) add(n int64) {
	if p.emit == nil {
		return
	}
	p.mu.Lock()
	p.transferred += n
	if p.transferred > p.total {
		p.transferred = p.total
	}
	transferred := p.transferred
	p.mu.Unlock()
	p.emit(p.taskID, transferred, p.total)
}

// contentTypeFor guesses the MIME type of a local file from its extension.
func contentTypeFor(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return ct
}

func logTransfer(direction state.Direction, bucket, key string, bytes int64, d time.Duration) {
	logger.Debug("transfer complete: direction=%s target=%s/%s bytes=%d duration=%s",
		direction, bucket, key, bytes, d)
}
