// Package ratelimit implements a continuously-refilling token bucket used
// to stay under the exchange's weight-based REST limits (§4.7 "the
// exchange may reject a submission before it reaches the book" —one of
// the reasons being a burst over the per-endpoint request budget).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token-bucket rate limiter with continuous (sub-second)
// refill, rather than a hard reset at a fixed window boundary.
type Bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens added per second
	lastTime time.Time
}

// New creates a bucket holding up to capacity tokens, refilled at
// ratePerSecond.
func New(capacity, ratePerSecond float64) *Bucket {
	return &Bucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.tokens += now.Sub(b.lastTime).Seconds() * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastTime = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Limiter groups the order-submission and cancel buckets OrderRouter
// waits on before every REST call (§4.7). Limits are set to the
// exchange's published per-10-second-window order/cancel budget,
// refilled smoothly rather than in 10s bursts.
type Limiter struct {
	Order  *Bucket
	Cancel *Bucket
}

// NewLimiter builds a Limiter at the exchange's default order/cancel
// REST limits.
func NewLimiter() *Limiter {
	return &Limiter{
		Order:  New(50, 10),  // 100 orders / 10s window, bursts of up to 50
		Cancel: New(50, 10),  // 100 cancels / 10s window, bursts of up to 50
	}
}
