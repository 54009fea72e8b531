// Package retry runs blocking calls to external services with a per-attempt
// timeout and exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	errorskg "github.com/sweetpotato0/crag/errors"
)

// Policy bounds the attempts made for a single external call.
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	// AttemptTimeout bounds each individual attempt. Zero disables it.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 3 attempts, 1s..60s exponential backoff (x2, ±25%)
// and a 30s timeout per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     60 * time.Second,
		Multiplier:      2,
		Jitter:          0.25,
		AttemptTimeout:  30 * time.Second,
	}
}

// Notify is called before each backoff sleep.
type Notify func(err error, next time.Duration)

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// is exhausted. Attempts that hit their own deadline surface as timeout errors.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), notify ...Notify) (T, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	}
	if len(notify) > 0 && notify[0] != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify[0])))
	}

	return backoff.Retry(ctx, func() (T, error) {
		attemptCtx := ctx
		cancel := func() {}
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		out, err := op(attemptCtx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) && errorskg.KindOf(err) == errorskg.KindUnknown {
			err = errorskg.Wrap(errorskg.KindTimeout, "retry", err)
		}
		if !errorskg.Retryable(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, opts...)
}
