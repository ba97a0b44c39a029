package premium

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket sized for a per-window request quota
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows limit requests per window, with a burst of limit
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 || window <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	every := window / time.Duration(limit)
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(every), limit)}
}

// Wait blocks until a token is available or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow takes a token without waiting
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}
