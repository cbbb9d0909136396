package syncer

import (
	"context"
	"errors"
	"io/fs"
	"math/rand"
	"net"
	"time"

	"github.com/aws/smithy-go"

	"github.com/functionland/fulasync/pkg/crypto/content"
	"github.com/functionland/fulasync/pkg/crypto/keys"
	"github.com/functionland/fulasync/pkg/crypto/wrap"
	"github.com/functionland/fulasync/pkg/store/object"
)

const (
	// DefaultMaxRetries is the automatic requeue budget per task.
	DefaultMaxRetries = 5

	// DefaultRetryBaseDelay seeds the exponential backoff schedule.
	DefaultRetryBaseDelay = 2 * time.Second

	// DefaultRetryMaxDelay caps the backoff between attempts.
	DefaultRetryMaxDelay = 5 * time.Minute
)

// RetryConfig tunes the retry supervisor.
type RetryConfig struct {
	// MaxRetries is how many times a transiently failed task is requeued
	// before it is marked failed for good. Zero means DefaultMaxRetries.
	MaxRetries int `mapstructure:"max_retries"`

	// BaseDelay is the first backoff interval. Zero means
	// DefaultRetryBaseDelay.
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// MaxDelay caps the backoff. Zero means DefaultRetryMaxDelay.
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultRetryBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryMaxDelay
	}
	return c
}

// RetrySupervisor decides whether a failed task goes back on the queue and
// when it becomes eligible again.
//
// Failures split into two classes. Permanent: authentication and key
// errors, missing objects or local files, quota exhaustion. Retrying those
// cannot succeed without outside intervention. Everything else, network
// errors above all, is treated as transient and retried with exponential
// backoff until the retry budget runs out.
type RetrySupervisor struct {
	cfg RetryConfig
}

// NewRetrySupervisor creates a supervisor; zero config fields take
// defaults.
func NewRetrySupervisor(cfg RetryConfig) *RetrySupervisor {
	return &RetrySupervisor{cfg: cfg.withDefaults()}
}

// MaxRetries returns the configured requeue budget.
func (r *RetrySupervisor) MaxRetries() int {
	return r.cfg.MaxRetries
}

// ShouldRetry reports whether a task that failed with err after retryCount
// earlier attempts should be requeued.
func (r *RetrySupervisor) ShouldRetry(err error, retryCount int) bool {
	if retryCount >= r.cfg.MaxRetries {
		return false
	}
	return !IsPermanent(err)
}

// NextDelay returns the backoff before attempt retryCount+1, with up to
// 25% random jitter so parallel clients do not thunder in lockstep.
func (r *RetrySupervisor) NextDelay(retryCount int) time.Duration {
	delay := r.cfg.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// httpStatusError is implemented by transport errors that carry an HTTP
// status, including the AWS SDK's response errors.
type httpStatusError interface {
	HTTPStatusCode() int
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown, not a verdict on the task. The task stays pending and
		// runs again next start, so treat it as transient.
		return false
	case errors.Is(err, content.ErrAuthenticationFailed),
		errors.Is(err, wrap.ErrUnwrapFailed),
		errors.Is(err, keys.ErrLocked),
		errors.Is(err, keys.ErrInvalidCredential):
		return true
	case errors.Is(err, object.ErrObjectNotFound), errors.Is(err, fs.ErrNotExist):
		return true
	case object.IsQuotaExceeded(err):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		// 429 and 5xx are server-side or throttling conditions.
		if code == 429 || code >= 500 {
			return false
		}
		return code >= 400
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
			return true
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling", "ThrottlingException":
			return false
		}
	}

	// Unknown errors lean transient; the retry budget bounds the damage.
	return false
}
