package graph

import (
	"context"
	"errors"
	"fmt"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeCondition NodeType = "condition"
	NodeTypeCustom    NodeType = "custom"
)

// NodeFunc is the function executed by a node. It returns the state the
// next node observes; implementations should not mutate their input.
type NodeFunc[S any] func(context.Context, S) (S, error)

// ConditionFunc evaluates a condition and returns a key of the node's NextMap
type ConditionFunc[S any] func(context.Context, S) (string, error)

// Observer is notified after every executed node with the state it produced.
type Observer[S any] func(ctx context.Context, node string, state S)

// Node represents a node in the execution graph
type Node[S any] struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc[S]
	Condition ConditionFunc[S]  // Only for condition nodes
	Next      string            // Outgoing edge for non-condition nodes
	NextMap   map[string]string // For condition nodes: condition result -> next node
}

// Interrupt suspends a run at a node. A node returns it (possibly wrapped)
// together with the state to persist; Execute stops and returns both.
type Interrupt struct {
	Node   string
	Reason string
}

func (i *Interrupt) Error() string {
	return fmt.Sprintf("graph interrupted at node %s: %s", i.Node, i.Reason)
}

// Interrupted builds an Interrupt for node.
func Interrupted(node, reason string) error {
	return &Interrupt{Node: node, Reason: reason}
}

// AsInterrupt extracts an Interrupt from err.
func AsInterrupt(err error) (*Interrupt, bool) {
	var in *Interrupt
	if errors.As(err, &in) {
		return in, true
	}
	return nil, false
}

// ErrLoopDetected is returned when a node is visited more than the configured maximum.
var ErrLoopDetected = errors.New("infinite loop detected")

// Graph is a single-path state machine over a typed state S.
type Graph[S any] struct {
	nodes     map[string]*Node[S]
	startNode string
	endNode   string
	maxVisits int
	observer  Observer[S]
}

// NewGraph creates a new graph
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:     make(map[string]*Node[S]),
		maxVisits: 10,
	}
}

func (g *Graph[S]) validateNode(node *Node[S]) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}

	switch node.Type {
	case NodeTypeCondition:
		if node.Condition == nil {
			panic(fmt.Sprintf("condition node %s must have non-nil Condition function", node.Name))
		}
	case NodeTypeEnd:
		// end nodes may be pure sinks
	default:
		if node.Execute == nil {
			panic(fmt.Sprintf("node %s of type %s must have non-nil Execute function", node.Name, node.Type))
		}
	}
}

// AddNode adds a node to the graph
func (g *Graph[S]) AddNode(node *Node[S]) {
	if _, exists := g.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}

	g.validateNode(node)
	g.nodes[node.Name] = node

	if node.Type == NodeTypeStart {
		g.startNode = node.Name
	}
	if node.Type == NodeTypeEnd {
		g.endNode = node.Name
	}
}

// SetStartNode sets the start node
func (g *Graph[S]) SetStartNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.startNode = name
}

// SetEndNode sets the end node
func (g *Graph[S]) SetEndNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.endNode = name
}

// SetMaxVisits sets the maximum number of visits to a node
func (g *Graph[S]) SetMaxVisits(maxVisits int) {
	g.maxVisits = maxVisits
}

// SetObserver registers fn to be called after every executed node.
func (g *Graph[S]) SetObserver(fn Observer[S]) {
	g.observer = fn
}

// GetNode returns a node by name
func (g *Graph[S]) GetNode(name string) (*Node[S], error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Execute runs the graph from the configured start node.
func (g *Graph[S]) Execute(ctx context.Context, initial S) (S, error) {
	if g.startNode == "" {
		return initial, fmt.Errorf("start node not set")
	}
	return g.ExecuteFrom(ctx, g.startNode, initial)
}

// ExecuteFrom runs the graph starting at node, which is how a suspended run
// resumes. The loop:
//  1. checks the context before every node so cancellation lands between steps,
//  2. counts visits per node and aborts with ErrLoopDetected past maxVisits,
//  3. routes condition nodes through NextMap and other nodes through Next,
//  4. stops at the end node, or at the first error. An Interrupt is returned
//     together with the state produced by the interrupting node.
func (g *Graph[S]) ExecuteFrom(ctx context.Context, node string, initial S) (S, error) {
	state := initial
	visited := make(map[string]int)
	current := node

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		n, exists := g.nodes[current]
		if !exists {
			return state, fmt.Errorf("node %s not found", current)
		}

		visited[current]++
		if visited[current] > g.maxVisits {
			return state, fmt.Errorf("%w at node %s", ErrLoopDetected, current)
		}

		if n.Type == NodeTypeCondition {
			result, err := n.Condition(ctx, state)
			if err != nil {
				return state, fmt.Errorf("error evaluating condition at node %s: %w", n.Name, err)
			}
			next := n.NextMap[result]
			if next == "" {
				return state, fmt.Errorf("no next node for result %q at node %s", result, n.Name)
			}
			current = next
			continue
		}

		if n.Execute != nil {
			next, err := n.Execute(ctx, state)
			if err != nil {
				if _, ok := AsInterrupt(err); ok {
					g.notify(ctx, n.Name, next)
					return next, err
				}
				return state, fmt.Errorf("error executing node %s: %w", n.Name, err)
			}
			state = next
			g.notify(ctx, n.Name, state)
		}

		if n.Type == NodeTypeEnd || n.Name == g.endNode {
			return state, nil
		}
		if n.Next == "" {
			return state, fmt.Errorf("no next node specified for node %s", n.Name)
		}
		current = n.Next
	}
}

func (g *Graph[S]) notify(ctx context.Context, node string, state S) {
	if g.observer != nil {
		g.observer(ctx, node, state)
	}
}

// Builder helps build graphs fluently
type Builder[S any] struct {
	graph *Graph[S]
}

// NewBuilder creates a new graph builder
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{graph: NewGraph[S]()}
}

// AddNode adds a node to the graph
func (b *Builder[S]) AddNode(name string, nodeType NodeType, execute NodeFunc[S]) *Builder[S] {
	b.graph.AddNode(&Node[S]{
		Name:    name,
		Type:    nodeType,
		Execute: execute,
	})
	return b
}

// AddConditionNode adds a condition node
func (b *Builder[S]) AddConditionNode(name string, condition ConditionFunc[S], nextMap map[string]string) *Builder[S] {
	b.graph.AddNode(&Node[S]{
		Name:      name,
		Type:      NodeTypeCondition,
		Condition: condition,
		NextMap:   nextMap,
	})
	return b
}

// AddEdge connects two nodes
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	if node, exists := b.graph.nodes[from]; exists {
		node.Next = to
	}
	return b
}

// SetStart sets the start node
func (b *Builder[S]) SetStart(name string) *Builder[S] {
	b.graph.SetStartNode(name)
	return b
}

// SetEnd sets the end node
func (b *Builder[S]) SetEnd(name string) *Builder[S] {
	b.graph.SetEndNode(name)
	return b
}

// SetMaxVisits sets the maximum number of visits to a node
func (b *Builder[S]) SetMaxVisits(maxVisits int) *Builder[S] {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// Observe registers an observer on the graph.
func (b *Builder[S]) Observe(fn Observer[S]) *Builder[S] {
	b.graph.SetObserver(fn)
	return b
}

// Build returns the constructed graph
func (b *Builder[S]) Build() *Graph[S] {
	return b.graph
}
