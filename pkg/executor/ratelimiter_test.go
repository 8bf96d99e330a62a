package executor

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterCapsOrdersPerSecond(t *testing.T) {
	rl := NewRateLimiter(6000, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.AdmitOrder(ctx); err != nil {
			t.Fatalf("admit order %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 500*time.Millisecond {
		t.Fatalf("expected the third order in the same second to wait for a fresh window, elapsed only %s", elapsed)
	}
}

func TestRateLimiterAdmitRequestRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(1, 100)
	if err := rl.AdmitRequest(context.Background()); err != nil {
		t.Fatalf("expected first request admitted immediately: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.AdmitRequest(ctx); err == nil {
		t.Fatal("expected AdmitRequest to return an error on an already-cancelled context")
	}
}
