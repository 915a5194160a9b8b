package flow

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// resolver materializes one Program for one Build call. The memo maps step
// indices to nodes and lives only as long as the call.
type resolver struct {
	ctx     context.Context
	program *Program
	factory NodeFactory
	opts    *buildOptions
	rawOpts []BuildOption
	memo    map[int]Node
}

func newResolver(ctx context.Context, p *Program, factory NodeFactory, o *buildOptions, raw []BuildOption) *resolver {
	return &resolver{
		ctx:     ctx,
		program: p,
		factory: factory,
		opts:    o,
		rawOpts: raw,
		memo:    make(map[int]Node, len(p.steps)),
	}
}

// resolve returns the chain entered at step index i.
//
// A node is memoized before any of its outgoing edges are resolved, so a
// later step pointing back at it receives the same, partially wired node
// instead of recursing forever.
func (r *resolver) resolve(i int) (Node, error) {
	if n, ok := r.memo[i]; ok {
		return n, nil
	}

	switch s := r.program.steps[i].(type) {
	case jumpStep:
		return r.resolve(r.program.mustIndexOf(s.target))
	case endStep:
		if !r.program.hasNext(i) {
			return nil, nil
		}
		return r.resolve(i + 1)
	}

	s := r.program.steps[i]
	node, err := r.newNode(s)
	if err != nil {
		return nil, err
	}
	r.memo[i] = node

	id, _ := s.ownID()
	r.opts.logger.DebugContext(r.ctx, "step materialized",
		slog.String("step_id", id), slog.String("kind", s.kind().String()), slog.Int("index", i))

	if err := r.attach(s, node); err != nil {
		return nil, err
	}

	if !r.program.hasNext(i) {
		return node, nil
	}
	chain, ok := node.(Chainable)
	if !ok {
		return nil, capabilityError(id, s.kind(), "chained to a next step")
	}
	next, err := r.resolve(i + 1)
	if err != nil {
		return nil, err
	}
	return chain.Next(next), nil
}

// newNode returns the caller-built node for execute steps and asks the
// factory for every other kind.
func (r *resolver) newNode(s step) (Node, error) {
	var spec NodeSpec
	switch s := s.(type) {
	case executeStep:
		return s.node, nil
	case tryExecuteStep:
		return s.node, nil
	case decisionStep:
		spec = NodeSpec{Kind: KindDecision, ID: s.id, Props: s.props.Props, Conditions: s.props.conditions()}
	case mapStep:
		spec = NodeSpec{Kind: KindMap, ID: s.id, Props: s.props.Props}
	case parallelStep:
		spec = NodeSpec{Kind: KindParallel, ID: s.id, Props: s.props.Props}
	case propsStep:
		spec = NodeSpec{Kind: s.k, ID: s.id, Props: s.props}
	case invokeStep:
		spec = NodeSpec{Kind: KindInvoke, ID: s.id, Props: s.props.Props, Retry: s.props.Retry}
	default:
		panic(fmt.Sprintf("flow: no node for step kind %s", s.kind()))
	}

	node, err := r.factory.NewNode(logging.WithStepID(r.ctx, spec.ID), spec)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, schema.NewErrorf(schema.ErrCodeConstruction,
			"factory returned no node for %s step", spec.Kind).WithStep(spec.ID)
	}
	return node, nil
}

// attach wires the kind-specific outgoing edges of node.
func (r *resolver) attach(s step, node Node) error {
	switch s := s.(type) {
	case executeStep, propsStep, endStep, jumpStep:
		return nil

	case tryExecuteStep:
		return r.attachCatches(s, node, s.catches)

	case decisionStep:
		d, ok := node.(Decider)
		if !ok {
			return capabilityError(s.id, KindDecision, "given branches")
		}
		for _, c := range s.props.Choices {
			next, err := r.resolve(r.program.mustIndexOf(c.Next))
			if err != nil {
				return err
			}
			d.When(c.When, next)
		}
		otherwise, err := r.resolve(r.program.mustIndexOf(s.props.Otherwise))
		if err != nil {
			return err
		}
		d.Otherwise(otherwise)
		return nil

	case mapStep:
		m, ok := node.(Mapper)
		if !ok {
			return capabilityError(s.id, KindMap, "given an iterator")
		}
		body, err := s.props.Iterator.Build(r.ctx, r.factory, r.rawOpts...)
		if err != nil {
			return err
		}
		m.Iterator(body)
		return r.attachCatches(s, node, s.props.Catches)

	case parallelStep:
		f, ok := node.(Forker)
		if !ok {
			return capabilityError(s.id, KindParallel, "given branches")
		}
		bodies, err := r.buildBranches(s.props.Branches)
		if err != nil {
			return err
		}
		for _, body := range bodies {
			f.Branch(body)
		}
		return r.attachCatches(s, node, s.props.Catches)

	case invokeStep:
		return r.attachCatches(s, node, s.props.Catches)

	default:
		panic(fmt.Sprintf("flow: no edges for step kind %s", s.kind()))
	}
}

func (r *resolver) attachCatches(s step, node Node, catches []Catch) error {
	if len(catches) == 0 {
		return nil
	}
	c, ok := node.(Catcher)
	if !ok {
		id, _ := s.ownID()
		return capabilityError(id, s.kind(), "given catch handlers")
	}
	for _, catch := range catches {
		handler, err := r.resolve(r.program.mustIndexOf(catch.Handler))
		if err != nil {
			return err
		}
		c.AddCatch(handler, catch.Match)
	}
	return nil
}

// buildBranches builds each branch Program, concurrently when the build
// options allow it. The result keeps declaration order.
func (r *resolver) buildBranches(branches []*Program) ([]Node, error) {
	bodies := make([]Node, len(branches))

	if r.opts.branchLimit <= 0 || len(branches) < 2 {
		for i, b := range branches {
			body, err := b.Build(r.ctx, r.factory, r.rawOpts...)
			if err != nil {
				return nil, err
			}
			bodies[i] = body
		}
		return bodies, nil
	}

	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.opts.branchLimit)
	for i, b := range branches {
		g.Go(func() error {
			body, err := b.Build(ctx, r.factory, r.rawOpts...)
			if err != nil {
				return err
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

func capabilityError(id string, kind StepKind, what string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeConstruction,
		"%s node cannot be %s", kind, what).WithStep(id)
}
