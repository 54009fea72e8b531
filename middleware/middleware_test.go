package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/sweetpotato0/crag/rag/orchestrator"
)

func TestMiddlewareChain(t *testing.T) {
	t.Run("empty chain executes final handler", func(t *testing.T) {
		executed := false
		err := NewChain().Execute(&Context{}, func(ctx *Context) error {
			executed = true
			return nil
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !executed {
			t.Error("final handler was not executed")
		}
	})

	t.Run("middleware chain executes in order", func(t *testing.T) {
		var order []string
		chain := NewChain(&recorder{name: "m1", order: &order}).Add(&recorder{name: "m2", order: &order})

		_ = chain.Execute(&Context{}, func(c *Context) error {
			order = append(order, "final")
			return nil
		})

		expected := []string{"m1", "m2", "final"}
		if len(order) != len(expected) {
			t.Fatalf("expected %d steps, got %v", len(expected), order)
		}
		for i, e := range expected {
			if order[i] != e {
				t.Errorf("expected step %d to be %s, got %s", i, e, order[i])
			}
		}
	})

	t.Run("error stops chain execution", func(t *testing.T) {
		var order []string
		chain := NewChain(
			&recorder{name: "m1", err: errors.New("test error"), order: &order},
			&recorder{name: "m2", order: &order},
		)

		finalCalled := false
		err := chain.Execute(&Context{}, func(c *Context) error {
			finalCalled = true
			return nil
		})
		if err == nil {
			t.Error("expected error from middleware")
		}
		if finalCalled || len(order) != 1 {
			t.Errorf("chain must stop at the failing middleware, ran %v", order)
		}
	})
}

func TestContext(t *testing.T) {
	base := context.WithValue(context.Background(), struct{}{}, "v")
	ctx := NewContext(base, OpAsk, "q", "s1")
	if ctx.Metadata == nil || len(ctx.Metadata) != 0 {
		t.Error("metadata should be empty and non-nil")
	}
	if ctx.Context() != base {
		t.Error("underlying context not preserved")
	}
	if (&Context{}).Context() == nil {
		t.Error("zero context must fall back to background")
	}
}

type engine struct {
	op  Operation
	req any
}

func (e *engine) Ask(_ context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	e.op, e.req = OpAsk, req
	return &orchestrator.Response{SessionID: "assigned"}, nil
}

func (e *engine) AskSimple(_ context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	e.op, e.req = OpAskSimple, req
	return &orchestrator.Response{SessionID: req.SessionID}, nil
}

func (e *engine) Clarify(_ context.Context, req orchestrator.ClarifyRequest) (*orchestrator.Response, error) {
	e.op, e.req = OpClarify, req
	return nil, errors.New("boom")
}

func TestDispatch(t *testing.T) {
	e := &engine{}
	h := Dispatch(e)

	c := NewContext(context.Background(), OpAsk, "q", "")
	if err := h(c); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if e.op != OpAsk || e.req.(orchestrator.Request).Query != "q" {
		t.Fatalf("dispatched %s %+v", e.op, e.req)
	}
	if c.SessionID != "assigned" || c.Response == nil {
		t.Fatalf("response must be recorded, got %+v", c)
	}

	c = NewContext(context.Background(), OpAskSimple, "q", "s")
	if err := h(c); err != nil || e.op != OpAskSimple {
		t.Fatalf("simple: %v %s", err, e.op)
	}

	c = NewContext(context.Background(), OpClarify, "1", "s")
	if err := h(c); err == nil || e.op != OpClarify {
		t.Fatalf("clarify must pass the error through, got %v", err)
	}
	if got := e.req.(orchestrator.ClarifyRequest); got.UserResponse != "1" || got.SessionID != "s" {
		t.Fatalf("clarify request %+v", got)
	}

	if err := h(NewContext(context.Background(), "bogus", "", "")); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("unknown operation: %v", err)
	}
}

type recorder struct {
	name  string
	order *[]string
	err   error
}

func (m *recorder) Name() string { return m.name }

func (m *recorder) Execute(ctx *Context, next Handler) error {
	*m.order = append(*m.order, m.name)
	if m.err != nil {
		return m.err
	}
	return next(ctx)
}
