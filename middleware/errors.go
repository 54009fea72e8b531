package middleware

import "errors"

var (
	// ErrRateLimitExceeded indicates too many requests are in flight
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidContext indicates middleware context is invalid
	ErrInvalidContext = errors.New("invalid middleware context")
)
