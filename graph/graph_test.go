package graph

import (
	"context"
	"errors"
	"testing"
)

type trace struct {
	N    int
	Path []string
}

func step(name string) NodeFunc[trace] {
	return func(_ context.Context, s trace) (trace, error) {
		s.Path = append(append([]string(nil), s.Path...), name)
		s.N++
		return s, nil
	}
}

func TestAddNodeEmptyName(t *testing.T) {
	g := NewGraph[trace]()

	defer func() {
		if r := recover(); r != "node name cannot be empty" {
			t.Errorf("Expected panic 'node name cannot be empty', got %v", r)
		}
	}()
	g.AddNode(&Node[trace]{Name: "", Type: NodeTypeCustom, Execute: step("x")})
}

func TestAddNodeDuplicate(t *testing.T) {
	g := NewGraph[trace]()
	g.AddNode(&Node[trace]{Name: "dup_node", Type: NodeTypeCustom, Execute: step("a")})

	defer func() {
		if r := recover(); r != "node dup_node already exists" {
			t.Errorf("Expected duplicate panic, got %v", r)
		}
	}()
	g.AddNode(&Node[trace]{Name: "dup_node", Type: NodeTypeCustom, Execute: step("b")})
}

func TestAddNodeMissingExecute(t *testing.T) {
	g := NewGraph[trace]()
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic for custom node without Execute")
		}
	}()
	g.AddNode(&Node[trace]{Name: "broken", Type: NodeTypeCustom})
}

func TestSetStartNodeNotFound(t *testing.T) {
	g := NewGraph[trace]()
	defer func() {
		if r := recover(); r != "node missing not found" {
			t.Errorf("Expected not found panic, got %v", r)
		}
	}()
	g.SetStartNode("missing")
}

func TestExecuteSimpleLinearGraph(t *testing.T) {
	g := NewBuilder[trace]().
		AddNode("start", NodeTypeStart, step("start")).
		AddNode("process", NodeTypeCustom, step("process")).
		AddNode("end", NodeTypeEnd, step("end")).
		AddEdge("start", "process").
		AddEdge("process", "end").
		Build()

	out, err := g.Execute(context.Background(), trace{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.N != 3 || len(out.Path) != 3 || out.Path[1] != "process" {
		t.Fatalf("unexpected trace %+v", out)
	}
}

func TestExecuteWithCondition(t *testing.T) {
	build := func() *Graph[trace] {
		return NewBuilder[trace]().
			AddNode("start", NodeTypeStart, func(_ context.Context, s trace) (trace, error) { return s, nil }).
			AddConditionNode("route", func(_ context.Context, s trace) (string, error) {
				if s.N > 5 {
					return "big", nil
				}
				return "small", nil
			}, map[string]string{"big": "big", "small": "small"}).
			AddNode("big", NodeTypeCustom, step("big")).
			AddNode("small", NodeTypeCustom, step("small")).
			AddNode("end", NodeTypeEnd, nil).
			AddEdge("start", "route").
			AddEdge("big", "end").
			AddEdge("small", "end").
			Build()
	}

	out, err := build().Execute(context.Background(), trace{N: 10})
	if err != nil || len(out.Path) != 1 || out.Path[0] != "big" {
		t.Fatalf("expected big branch, got %+v (%v)", out, err)
	}
	out, err = build().Execute(context.Background(), trace{N: 1})
	if err != nil || len(out.Path) != 1 || out.Path[0] != "small" {
		t.Fatalf("expected small branch, got %+v (%v)", out, err)
	}
}

func TestExecuteConditionWithoutRoute(t *testing.T) {
	g := NewBuilder[trace]().
		AddConditionNode("route", func(context.Context, trace) (string, error) { return "nowhere", nil }, map[string]string{"a": "end"}).
		AddNode("end", NodeTypeEnd, nil).
		SetStart("route").
		Build()
	if _, err := g.Execute(context.Background(), trace{}); err == nil {
		t.Fatalf("expected error for unmapped condition result")
	}
}

func TestExecuteNoStartNode(t *testing.T) {
	g := NewGraph[trace]()
	if _, err := g.Execute(context.Background(), trace{}); err == nil {
		t.Errorf("Expected error when start node not set")
	}
}

func TestExecuteInfiniteLoop(t *testing.T) {
	g := NewBuilder[trace]().
		AddNode("loop", NodeTypeStart, step("loop")).
		AddEdge("loop", "loop").
		SetMaxVisits(3).
		Build()

	out, err := g.Execute(context.Background(), trace{})
	if !errors.Is(err, ErrLoopDetected) {
		t.Fatalf("expected ErrLoopDetected, got %v", err)
	}
	if out.N != 3 {
		t.Fatalf("expected 3 executions before abort, got %d", out.N)
	}
}

func TestExecuteInterruptAndResume(t *testing.T) {
	var observed []string
	g := NewBuilder[trace]().
		AddNode("start", NodeTypeStart, step("start")).
		AddNode("ask", NodeTypeCustom, func(ctx context.Context, s trace) (trace, error) {
			s, _ = step("ask")(ctx, s)
			return s, Interrupted("ask", "waiting for user")
		}).
		AddNode("resume", NodeTypeCustom, step("resume")).
		AddNode("end", NodeTypeEnd, nil).
		AddEdge("start", "ask").
		AddEdge("ask", "resume").
		AddEdge("resume", "end").
		Observe(func(_ context.Context, node string, _ trace) { observed = append(observed, node) }).
		Build()

	parked, err := g.Execute(context.Background(), trace{})
	in, ok := AsInterrupt(err)
	if !ok || in.Node != "ask" {
		t.Fatalf("expected interrupt at ask, got %v", err)
	}
	if parked.N != 2 {
		t.Fatalf("interrupt must return the interrupting node's state, got %+v", parked)
	}

	out, err := g.ExecuteFrom(context.Background(), "resume", parked)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if out.N != 3 || out.Path[2] != "resume" {
		t.Fatalf("unexpected resumed trace %+v", out)
	}
	if len(observed) != 3 || observed[1] != "ask" {
		t.Fatalf("unexpected observer calls %v", observed)
	}
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := NewBuilder[trace]().
		AddNode("start", NodeTypeStart, func(_ context.Context, s trace) (trace, error) {
			cancel()
			s.N++
			return s, nil
		}).
		AddNode("next", NodeTypeCustom, step("next")).
		AddNode("end", NodeTypeEnd, nil).
		AddEdge("start", "next").
		AddEdge("next", "end").
		Build()

	out, err := g.Execute(ctx, trace{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out.N != 1 {
		t.Fatalf("expected the node after cancellation to be skipped, got %+v", out)
	}
}

func TestExecuteWrapsNodeError(t *testing.T) {
	boom := errors.New("boom")
	g := NewBuilder[trace]().
		AddNode("start", NodeTypeStart, func(_ context.Context, s trace) (trace, error) { return s, boom }).
		Build()
	if _, err := g.Execute(context.Background(), trace{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped node error, got %v", err)
	}
}
