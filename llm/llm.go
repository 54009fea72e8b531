// Package llm defines the narrow language-model capability the engine depends
// on: send a prompt, get structured output back.
package llm

import (
	"context"
	"sync/atomic"

	"github.com/sweetpotato0/crag/message"
	"github.com/sweetpotato0/crag/pkg/retry"
)

// Request bundles inputs for a single completion.
type Request struct {
	Messages []*message.Message
	// JSON asks the provider to constrain output to a single JSON object.
	JSON bool
	// Temperature overrides the provider default when non-nil.
	Temperature *float64
	// MaxTokens overrides the provider default when positive.
	MaxTokens int
}

// Client is implemented by provider adapters under contrib/provider.
type Client interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req *Request) (string, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// NewRequest builds a JSON-mode request from a system and a user prompt.
func NewRequest(system, user string) *Request {
	return &Request{
		Messages: []*message.Message{message.System(system), message.User(user)},
		JSON:     true,
	}
}

type counterKey struct{}

// WithCallCounter attaches a counter that is incremented once per model call
// made with the returned context.
func WithCallCounter(ctx context.Context, c *atomic.Int64) context.Context {
	return context.WithValue(ctx, counterKey{}, c)
}

func countCall(ctx context.Context) {
	if c, ok := ctx.Value(counterKey{}).(*atomic.Int64); ok && c != nil {
		c.Add(1)
	}
}

// Structured completes req and decodes the JSON reply into T. Transport
// failures and malformed output are retried under policy.
func Structured[T any](ctx context.Context, c Client, policy retry.Policy, req *Request) (*T, error) {
	return retry.Do(ctx, policy, func(ctx context.Context) (*T, error) {
		countCall(ctx)
		raw, err := c.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		return DecodeJSON[T](raw)
	})
}
