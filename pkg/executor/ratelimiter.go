package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter composes golang.org/x/time/rate's token bucket, for the
// general-request quota, with a hand-rolled orders-per-second ceiling: a
// counter that resets every 1000ms rather than refilling continuously,
// which rate.Limiter has no way to express on its own. A single mutex
// serializes admission decisions across both quotas.
type RateLimiter struct {
	requests *rate.Limiter

	mu              sync.Mutex
	maxOrdersPerSec int
	windowStart     time.Time
	ordersInWindow  int
}

// NewRateLimiter builds a limiter refilling maxRequestsPerMinute tokens at
// a steady rate, plus a hard ceiling of maxOrdersPerSecond order admissions
// per 1000ms window.
func NewRateLimiter(maxRequestsPerMinute, maxOrdersPerSecond int) *RateLimiter {
	perSecond := rate.Limit(float64(maxRequestsPerMinute) / 60.0)
	return &RateLimiter{
		requests:        rate.NewLimiter(perSecond, maxRequestsPerMinute),
		maxOrdersPerSec: maxOrdersPerSecond,
		windowStart:     time.Time{},
	}
}

// AdmitRequest blocks, sleeping in 100ms slices, until a general-request
// token is available.
func (r *RateLimiter) AdmitRequest(ctx context.Context) error {
	for {
		if r.requests.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// AdmitOrder blocks until both a general-request token and an order slot in
// the current 1000ms window are available; order calls consume both.
func (r *RateLimiter) AdmitOrder(ctx context.Context) error {
	for {
		if r.tryReserveOrderSlot() {
			return r.AdmitRequest(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (r *RateLimiter) tryReserveOrderSlot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.windowStart.IsZero() || now.Sub(r.windowStart) >= time.Second {
		r.windowStart = now
		r.ordersInWindow = 0
	}
	if r.ordersInWindow >= r.maxOrdersPerSec {
		return false
	}
	r.ordersInWindow++
	return true
}
