package transfer

import (
	"time"

	"github.com/functionland/fulasync/pkg/store/state"
)

// Metrics receives transfer-level observations. Implementations must be
// safe for concurrent use.
type Metrics interface {
	// ObserveTransfer records one finished transfer attempt with the wire
	// bytes moved, its duration, and its outcome.
	ObserveTransfer(direction state.Direction, bytes int64, duration time.Duration, err error)

	// IncPartRetry counts one retried multipart part.
	IncPartRetry()
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransfer(state.Direction, int64, time.Duration, error) {}
func (noopMetrics) IncPartRetry()                                               {}
