package syncer

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/functionland/fulasync/pkg/crypto/content"
	"github.com/functionland/fulasync/pkg/crypto/keys"
	"github.com/functionland/fulasync/pkg/crypto/wrap"
	"github.com/functionland/fulasync/pkg/store/object"
)

type statusError struct {
	code int
}

func (e *statusError) Error() string       { return fmt.Sprintf("http status %d", e.code) }
func (e *statusError) HTTPStatusCode() int { return e.code }

func TestIsPermanent(t *testing.T) {
	permanent := []error{
		content.ErrAuthenticationFailed,
		fmt.Errorf("decrypt: %w", content.ErrAuthenticationFailed),
		wrap.ErrUnwrapFailed,
		keys.ErrLocked,
		keys.ErrInvalidCredential,
		object.ErrObjectNotFound,
		&statusError{code: 403},
		&smithy.GenericAPIError{Code: "AccessDenied"},
		&smithy.GenericAPIError{Code: "QuotaExceeded"},
		&smithy.GenericAPIError{Code: "NoSuchBucket"},
	}
	for _, err := range permanent {
		assert.True(t, IsPermanent(err), "expected permanent: %v", err)
	}

	transient := []error{
		fmt.Errorf("connection reset by peer"),
		&net.DNSError{IsTimeout: true},
		&statusError{code: 503},
		&statusError{code: 429},
		&smithy.GenericAPIError{Code: "SlowDown"},
		&smithy.GenericAPIError{Code: "InternalError"},
		context.Canceled,
		context.DeadlineExceeded,
	}
	for _, err := range transient {
		assert.False(t, IsPermanent(err), "expected transient: %v", err)
	}
}

func TestShouldRetryBudget(t *testing.T) {
	s := NewRetrySupervisor(RetryConfig{MaxRetries: 3})

	transient := fmt.Errorf("flaky network")
	assert.True(t, s.ShouldRetry(transient, 0))
	assert.True(t, s.ShouldRetry(transient, 2))
	assert.False(t, s.ShouldRetry(transient, 3))
	assert.False(t, s.ShouldRetry(content.ErrAuthenticationFailed, 0))
}

func TestNextDelayGrowsAndCaps(t *testing.T) {
	s := NewRetrySupervisor(RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second})

	// Jitter adds up to 25%, so check bands rather than exact values.
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		got := s.NextDelay(i)
		assert.GreaterOrEqual(t, got, want, "attempt %d", i)
		assert.LessOrEqual(t, got, want+want/4, "attempt %d", i)
	}

	// Past the cap the base stays at MaxDelay.
	capped := s.NextDelay(10)
	assert.GreaterOrEqual(t, capped, 10*time.Second)
	assert.LessOrEqual(t, capped, 10*time.Second+10*time.Second/4)
}
