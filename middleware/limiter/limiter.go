package limiter

import (
	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/runner"
)

// RateLimiter bounds the number of requests in flight. Requests over the
// bound are rejected rather than queued.
type RateLimiter struct {
	gate *runner.Gate
}

// NewRateLimiter creates a rate limiting middleware
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	return &RateLimiter{gate: runner.NewGate(maxConcurrent)}
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute admits the request or fails with rate_limit.
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	release, ok := m.gate.TryAcquire()
	if !ok {
		return errorskg.Wrap(errorskg.KindRateLimit, "limiter", middleware.ErrRateLimitExceeded)
	}
	defer release()
	return next(ctx)
}

// InFlight returns the number of admitted requests still running.
func (m *RateLimiter) InFlight() int {
	return m.gate.InFlight()
}
