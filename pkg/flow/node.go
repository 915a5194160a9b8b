package flow

import (
	"context"

	"github.com/rendis/stepflow/pkg/schema"
)

// Node is an executable node produced by materialization. The core only
// needs its identifier; every other capability is expressed by the narrower
// interfaces below and checked when the step kind requires it.
type Node interface {
	ID() string
}

// Chainable is a node that can be followed by another node. Next returns the
// entry node of the resulting chain.
type Chainable interface {
	Node
	Next(next Node) Node
}

// Catcher is a node that routes matching errors to a handler chain.
type Catcher interface {
	Node
	AddCatch(handler Node, match ErrorMatch)
}

// TaskNode is a caller-built node that can both be chained and catch errors.
type TaskNode interface {
	Chainable
	Catcher
}

// Decider is a branching node: ordered conditional edges plus a default.
type Decider interface {
	Node
	When(cond Condition, next Node)
	Otherwise(next Node)
}

// Mapper is a node that runs a materialized body once per input item.
type Mapper interface {
	Node
	Iterator(body Node)
}

// Forker is a node that runs several materialized branches side by side.
type Forker interface {
	Node
	Branch(body Node)
}

// NodeSpec is everything a NodeFactory receives for one step.
// Conditions holds a decision's choice predicates in declaration order,
// the same values later passed to Decider.When.
type NodeSpec struct {
	Kind       StepKind
	ID         string
	Props      any
	Retry      *schema.RetryPolicy
	Conditions []Condition
}

// NodeFactory constructs nodes for steps that are not caller-built.
// Errors are returned to the Build caller unmodified.
type NodeFactory interface {
	NewNode(ctx context.Context, spec NodeSpec) (Node, error)
}

// NodeFactoryFunc adapts a function to the NodeFactory interface.
type NodeFactoryFunc func(ctx context.Context, spec NodeSpec) (Node, error)

// NewNode calls f(ctx, spec).
func (f NodeFactoryFunc) NewNode(ctx context.Context, spec NodeSpec) (Node, error) {
	return f(ctx, spec)
}
