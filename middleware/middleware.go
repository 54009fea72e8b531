// Package middleware wraps every orchestrator call in a chain of
// request-level concerns: validation, admission control, logging and error
// classification.
package middleware

import (
	"context"
	"fmt"

	"github.com/sweetpotato0/crag/rag/orchestrator"
)

// Operation names the orchestrator entry point a request is bound for.
type Operation string

const (
	OpAsk       Operation = "ask"
	OpAskSimple Operation = "ask_simple"
	OpClarify   Operation = "clarify"
)

// Context represents the middleware execution context
type Context struct {
	Operation Operation

	// Input is the query for asks and the user response for clarify.
	Input     string
	SessionID string

	// Response from the orchestrator
	Response *orchestrator.Response

	// Metadata for passing data between middlewares
	Metadata map[string]any

	context context.Context
}

// NewContext creates a new middleware context
func NewContext(ctx context.Context, op Operation, input, sessionID string) *Context {
	return &Context{
		Operation: op,
		Input:     input,
		SessionID: sessionID,
		Metadata:  make(map[string]any),
		context:   ctx,
	}
}

// Context returns the underlying context.Context
func (c *Context) Context() context.Context {
	if c.context == nil {
		return context.Background()
	}
	return c.context
}

// Middleware defines the interface for middleware components
type Middleware interface {
	// Name returns the name of the middleware for logging and debugging
	Name() string

	// Execute runs the middleware logic. Returning an error without calling
	// next stops the chain.
	Execute(ctx *Context, next Handler) error
}

// Handler is the function called to pass control to the next middleware
type Handler func(*Context) error

// Chain represents a sequence of middleware to be executed
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Add appends a middleware to the chain
func (c *Chain) Add(m Middleware) *Chain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Execute runs all middlewares in the chain
func (c *Chain) Execute(ctx *Context, finalHandler Handler) error {
	return c.executeMiddleware(ctx, 0, finalHandler)
}

func (c *Chain) executeMiddleware(ctx *Context, index int, finalHandler Handler) error {
	if index >= len(c.middlewares) {
		return finalHandler(ctx)
	}
	next := func(ctx *Context) error {
		return c.executeMiddleware(ctx, index+1, finalHandler)
	}
	return c.middlewares[index].Execute(ctx, next)
}

// Engine is the orchestrator surface the chain dispatches to.
type Engine interface {
	Ask(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
	AskSimple(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
	Clarify(ctx context.Context, req orchestrator.ClarifyRequest) (*orchestrator.Response, error)
}

// Dispatch returns the final handler that runs the request's operation.
func Dispatch(e Engine) Handler {
	return func(c *Context) error {
		var (
			resp *orchestrator.Response
			err  error
		)
		switch c.Operation {
		case OpAsk:
			resp, err = e.Ask(c.Context(), orchestrator.Request{Query: c.Input, SessionID: c.SessionID})
		case OpAskSimple:
			resp, err = e.AskSimple(c.Context(), orchestrator.Request{Query: c.Input, SessionID: c.SessionID})
		case OpClarify:
			resp, err = e.Clarify(c.Context(), orchestrator.ClarifyRequest{SessionID: c.SessionID, UserResponse: c.Input})
		default:
			return fmt.Errorf("%w: unknown operation %q", ErrInvalidContext, c.Operation)
		}
		if err != nil {
			return err
		}
		c.Response = resp
		if resp != nil {
			c.SessionID = resp.SessionID
		}
		return nil
	}
}
