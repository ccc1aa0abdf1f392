package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces remote calls by a fixed delay measured from the previous call.
type RateLimiter struct {
	mu    sync.Mutex
	delay time.Duration
	last  time.Time
	now   func() time.Time
}

// New creates a new RateLimiter. A zero or negative delay never blocks.
func New(delay time.Duration) *RateLimiter {
	return &RateLimiter{delay: delay, now: time.Now}
}

// Wait blocks until delay has passed since the previous Wait returned, or until the context is done.
// The first call returns immediately.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.last.IsZero() && r.delay > 0 {
		if remaining := r.delay - r.now().Sub(r.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	r.last = r.now()
	return nil
}

// Delay returns the configured delay.
func (r *RateLimiter) Delay() time.Duration {
	return r.delay
}
