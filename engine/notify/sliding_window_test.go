package notify

import (
	"context"
	"testing"
	"time"
)

func TestSlidingWindowLimiterAllowsBurstUpToMax(t *testing.T) {
	l := newSlidingWindowLimiter(3, time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		start := time.Now()
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if time.Since(start) > 50*time.Millisecond {
			t.Fatalf("send %d should not have waited", i)
		}
	}
}

func TestSlidingWindowLimiterBlocksFourthUntilWindowClears(t *testing.T) {
	l := newSlidingWindowLimiter(3, 200*time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("fourth send should have waited for the window to clear, elapsed %v", elapsed)
	}
}

func TestSlidingWindowLimiterDisabledNeverBlocks(t *testing.T) {
	l := newSlidingWindowLimiter(0, time.Minute)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}

func TestSlidingWindowLimiterRespectsContextCancellation(t *testing.T) {
	l := newSlidingWindowLimiter(1, time.Hour)
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(cancelCtx); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
