package flow

import (
	"context"
	"log/slog"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// Program is an ordered, append-only list of steps. Insertion order is
// control-flow order: a step falls through to the next one unless its kind
// or an End step stops it.
//
// A Program is not safe for concurrent mutation. Distinct Programs,
// including a parent and its children, share no state and may be built
// independently.
type Program struct {
	steps []step
}

// New returns an empty Program.
func New() *Program {
	return &Program{}
}

// Len returns the number of steps, End and Jump included.
func (p *Program) Len() int {
	return len(p.steps)
}

// StepIDs returns every identifier owned by the Program in step order,
// descending into map iterators and parallel branches.
func (p *Program) StepIDs() []string {
	var ids []string
	for _, s := range p.steps {
		ids = append(ids, s.ownedIDs()...)
	}
	return ids
}

// Execute appends a caller-built node.
func (p *Program) Execute(node Chainable) *Program {
	p.steps = append(p.steps, executeStep{node: node})
	return p
}

// TryExecute appends a caller-built node whose errors are routed to the
// given handlers.
func (p *Program) TryExecute(node TaskNode, catches ...Catch) *Program {
	p.steps = append(p.steps, tryExecuteStep{node: node, catches: catches})
	return p
}

// Decision appends a branching step. It never falls through.
func (p *Program) Decision(id string, props DecisionProps) *Program {
	p.steps = append(p.steps, decisionStep{id: id, props: props})
	return p
}

// Map appends a step that runs props.Iterator once per item.
func (p *Program) Map(id string, props MapProps) *Program {
	if props.Iterator == nil {
		props.Iterator = New()
	}
	p.steps = append(p.steps, mapStep{id: id, props: props})
	return p
}

// Parallel appends a step that runs every branch of props.Branches.
func (p *Program) Parallel(id string, props ParallelProps) *Program {
	branches := make([]*Program, len(props.Branches))
	for i, b := range props.Branches {
		if b == nil {
			b = New()
		}
		branches[i] = b
	}
	props.Branches = branches
	p.steps = append(p.steps, parallelStep{id: id, props: props})
	return p
}

// Pass appends a pass-through step.
func (p *Program) Pass(id string, props any) *Program {
	p.steps = append(p.steps, propsStep{k: KindPass, id: id, props: props})
	return p
}

// Wait appends a wait step.
func (p *Program) Wait(id string, props any) *Program {
	p.steps = append(p.steps, propsStep{k: KindWait, id: id, props: props})
	return p
}

// Succeed appends a terminal success step.
func (p *Program) Succeed(id string, props any) *Program {
	p.steps = append(p.steps, propsStep{k: KindSucceed, id: id, props: props})
	return p
}

// Fail appends a terminal failure step.
func (p *Program) Fail(id string, props any) *Program {
	p.steps = append(p.steps, propsStep{k: KindFail, id: id, props: props})
	return p
}

// Invoke appends an external invoke step.
func (p *Program) Invoke(id string, props InvokeProps) *Program {
	p.steps = append(p.steps, invokeStep{id: id, props: props})
	return p
}

// End terminates the current path: the step before it gets no successor.
func (p *Program) End() *Program {
	p.steps = append(p.steps, endStep{})
	return p
}

// Next appends a jump to targetID. The jump is resolved away at build time
// and never becomes a node of its own.
func (p *Program) Next(targetID string) *Program {
	p.steps = append(p.steps, jumpStep{target: targetID})
	return p
}

// Build validates the Program and materializes it into a linked graph,
// returning the entry node. Validation failures are *schema.FlowError values
// with one of the EMPTY_PROGRAM, DUPLICATE_IDENTIFIER,
// INVALID_TARGET_REFERENCE or UNREACHABLE_IDENTIFIER codes. Errors from the
// factory or from building a child Program are returned unmodified.
func (p *Program) Build(ctx context.Context, factory NodeFactory, opts ...BuildOption) (Node, error) {
	o := newBuildOptions(opts)
	logger := logging.LogWith(ctx, o.logger)

	logger.DebugContext(ctx, "building program", slog.Int("steps", len(p.steps)))

	if err := p.Validate(); err != nil {
		if fe, ok := err.(*schema.FlowError); ok {
			logger.DebugContext(ctx, "program rejected",
				slog.String("code", fe.Code), slog.Any("ids", fe.IDs))
		}
		return nil, err
	}

	r := newResolver(ctx, p, factory, o, opts)
	head, err := r.resolve(0)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, schema.NewError(schema.ErrCodeEmptyProgram, "no executable steps defined")
	}
	return head, nil
}

// hasNext reports whether the step at index i falls through to i+1.
func (p *Program) hasNext(i int) bool {
	switch p.steps[i].kind() {
	case KindDecision, KindSucceed, KindFail, KindJump:
		return false
	}
	if i == len(p.steps)-1 {
		return false
	}
	return p.steps[i+1].kind() != KindEnd
}

// indexOf returns the index of the step whose own id is id, or -1.
func (p *Program) indexOf(id string) int {
	for i, s := range p.steps {
		if own, ok := s.ownID(); ok && own == id {
			return i
		}
	}
	return -1
}

// mustIndexOf is indexOf for ids that validation has already proven local.
func (p *Program) mustIndexOf(id string) int {
	i := p.indexOf(id)
	if i < 0 {
		panic("flow: unresolved target " + id + " after validation")
	}
	return i
}
