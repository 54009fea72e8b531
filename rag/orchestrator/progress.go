package orchestrator

import (
	"context"

	"github.com/sweetpotato0/crag/rag/state"
)

// ProgressFunc receives a notification as each workflow step starts.
type ProgressFunc func(step state.Step, message string)

type progressKey struct{}

// WithProgress attaches fn to ctx; runs started with the returned context
// report their steps to it.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

func report(ctx context.Context, step state.Step) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(step, step.Message())
	}
}
