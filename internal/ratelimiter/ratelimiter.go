// Package ratelimiter throttles transfer bandwidth using the token bucket
// algorithm.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// BandwidthLimiter caps sustained byte throughput across concurrent
// transfers.
//
// This implementation wraps golang.org/x/time/rate to provide:
//   - Token bucket limiting where one token is one byte
//   - Context-aware waiting (respects cancellation)
//   - Reservations larger than the bucket split into bucket-sized waits
//
// Thread safety:
// All methods are safe for concurrent use.
type BandwidthLimiter struct {
	limiter *rate.Limiter
	burst   int
}

// New creates a BandwidthLimiter enforcing bytesPerSecond sustained
// throughput.
//
// Parameters:
//   - bytesPerSecond: Maximum sustained throughput (tokens added per second)
//   - burst: Bucket capacity in bytes. Zero means one second's worth.
//
// A nil BandwidthLimiter is valid and enforces nothing, so callers can
// hold one unconditionally and only construct it when a limit is
// configured.
func New(bytesPerSecond, burst int64) *BandwidthLimiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = bytesPerSecond
	}

	return &BandwidthLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
		burst:   int(burst),
	}
}

// WaitN blocks until n bytes of budget are available or the context is
// cancelled. Requests larger than the bucket are consumed in bucket-sized
// pieces, which keeps large parts from starving smaller concurrent
// transfers.
//
// Returns nil once the full budget was acquired, or the context error.
func (l *BandwidthLimiter) WaitN(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}

	for n > 0 {
		take := n
		if take > l.burst {
			take = l.burst
		}
		if err := l.limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// AllowN reports whether n bytes of budget are immediately available,
// consuming them if so. Requests above the bucket capacity are always
// rejected; use WaitN for those.
func (l *BandwidthLimiter) AllowN(n int) bool {
	if l == nil || n <= 0 {
		return true
	}
	if n > l.burst {
		return false
	}
	return l.limiter.AllowN(time.Now(), n)
}

// SetRate updates the sustained throughput limit. The bucket capacity is
// left unchanged.
//
// Thread safety:
// Safe to call concurrently with WaitN.
func (l *BandwidthLimiter) SetRate(bytesPerSecond int64) {
	if l == nil || bytesPerSecond <= 0 {
		return
	}
	l.limiter.SetLimit(rate.Limit(bytesPerSecond))
}

// Tokens returns the bytes currently available in the bucket. Primarily
// useful for monitoring and tests; the value may change immediately after
// this call.
func (l *BandwidthLimiter) Tokens() float64 {
	if l == nil {
		return 0
	}
	return l.limiter.Tokens()
}
