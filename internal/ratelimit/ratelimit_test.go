package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitConsumesAvailableTokenImmediately(t *testing.T) {
	t.Parallel()
	b := New(1, 1)
	start := time.Now()
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("Wait blocked on a full bucket")
	}
}

func TestWaitBlocksUntilRefillThenReturns(t *testing.T) {
	t.Parallel()
	b := New(1, 20) // refills a token every 50ms
	ctx := context.Background()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	start := time.Now()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("second Wait returned in %v, want to block for a refill", elapsed)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	b := New(1, 0.001) // effectively never refills within the test window
	b.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); err == nil {
		t.Error("expected context deadline error, got nil")
	}
}

func TestNewLimiterStartsWithFullBuckets(t *testing.T) {
	t.Parallel()
	l := NewLimiter()
	if err := l.Order.Wait(context.Background()); err != nil {
		t.Errorf("Order.Wait on fresh limiter: %v", err)
	}
	if err := l.Cancel.Wait(context.Background()); err != nil {
		t.Errorf("Cancel.Wait on fresh limiter: %v", err)
	}
}
