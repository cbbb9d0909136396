package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		bytesPerSecond int64
		burst          int64
		wantNil        bool
	}{
		{
			name:           "standard rate",
			bytesPerSecond: 1 << 20,
			burst:          2 << 20,
		},
		{
			name:           "burst defaults to one second",
			bytesPerSecond: 4096,
			burst:          0,
		},
		{
			name:           "unlimited (zero rate)",
			bytesPerSecond: 0,
			burst:          0,
			wantNil:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.bytesPerSecond, tt.burst)
			if tt.wantNil {
				if limiter != nil {
					t.Fatal("expected nil limiter for unlimited rate")
				}
				return
			}
			if limiter == nil {
				t.Fatal("New() returned nil")
			}
		})
	}
}

// TestNilLimiter verifies the nil limiter enforces nothing.
func TestNilLimiter(t *testing.T) {
	var limiter *BandwidthLimiter

	if err := limiter.WaitN(context.Background(), 1<<30); err != nil {
		t.Fatalf("nil limiter WaitN returned error: %v", err)
	}
	if !limiter.AllowN(1 << 30) {
		t.Fatal("nil limiter should allow everything")
	}
}

// TestAllowN verifies immediate budget consumption.
func TestAllowN(t *testing.T) {
	// 1 KiB/s sustained, 4 KiB bucket, starts full
	limiter := New(1024, 4096)

	if !limiter.AllowN(4096) {
		t.Fatal("full bucket should cover a bucket-sized request")
	}
	if limiter.AllowN(2048) {
		t.Fatal("drained bucket should reject further requests")
	}
	if !limiter.AllowN(0) {
		t.Fatal("zero-byte requests are always allowed")
	}
	if limiter.AllowN(8192) {
		t.Fatal("requests above bucket capacity must be rejected")
	}
}

// TestWaitNSplitsLargeRequests verifies requests above the bucket size are
// acquired in pieces rather than erroring.
func TestWaitNSplitsLargeRequests(t *testing.T) {
	// High rate so the test does not actually sleep long
	limiter := New(1<<30, 1024)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := limiter.WaitN(ctx, 10*1024); err != nil {
		t.Fatalf("WaitN for request above burst failed: %v", err)
	}
}

// TestWaitNCancellation verifies a cancelled context aborts the wait.
func TestWaitNCancellation(t *testing.T) {
	// 1 byte/s: the second request cannot be served promptly
	limiter := New(1, 1)
	limiter.AllowN(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.WaitN(ctx, 1)
	if err == nil {
		t.Fatal("expected context error from WaitN")
	}
}

// TestSetRate verifies dynamic limit adjustment.
func TestSetRate(t *testing.T) {
	limiter := New(1024, 1024)
	limiter.AllowN(1024)

	// Raise the rate so the bucket refills quickly
	limiter.SetRate(1 << 30)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := limiter.WaitN(ctx, 1024); err != nil {
		t.Fatalf("WaitN after rate increase failed: %v", err)
	}
}
