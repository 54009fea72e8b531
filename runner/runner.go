package runner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds fan-out when callers pass a non-positive limit.
const DefaultConcurrency = 4

// Result is the outcome of one task in a parallel run.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// TaskFunc processes one item.
type TaskFunc[In, Out any] func(ctx context.Context, item In) (Out, error)

// Parallel runs fn over items with at most limit tasks in flight and returns
// one Result per item, in input order. A failing or panicking task does not
// stop its siblings; the caller decides how to degrade.
func Parallel[In, Out any](ctx context.Context, limit int, items []In, fn TaskFunc[In, Out]) []Result[Out] {
	results := make([]Result[Out], len(items))
	if len(items) == 0 {
		return results
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			results[i] = run(ctx, i, item, fn)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// All runs fn over items like Parallel but fails fast: the first error
// cancels the shared context and is returned.
func All[In, Out any](ctx context.Context, limit int, items []In, fn TaskFunc[In, Out]) ([]Out, error) {
	out := make([]Out, len(items))
	if len(items) == 0 {
		return out, nil
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			res := run(gctx, i, item, fn)
			if res.Err != nil {
				return res.Err
			}
			out[i] = res.Value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func run[In, Out any](ctx context.Context, index int, item In, fn TaskFunc[In, Out]) (res Result[Out]) {
	res.Index = index
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic in task %d: %v", index, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Value, res.Err = fn(ctx, item)
	return res
}

// Gate bounds how many callers may hold a slot at once.
type Gate struct {
	semaphore chan struct{}
}

// NewGate creates a gate with the given capacity.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 10
	}
	return &Gate{semaphore: make(chan struct{}, capacity)}
}

// TryAcquire takes a slot without waiting. The returned release must be called.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	select {
	case g.semaphore <- struct{}{}:
		return func() { <-g.semaphore }, true
	default:
		return nil, false
	}
}

// Acquire waits for a slot until ctx is done.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.semaphore <- struct{}{}:
		return func() { <-g.semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports how many slots are taken.
func (g *Gate) InFlight() int { return len(g.semaphore) }
