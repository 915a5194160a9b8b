// Package graph is the reference node set for flow programs. Its nodes
// record every edge the materializer attaches, and Render turns a built
// graph into a serializable Definition.
package graph

import "github.com/rendis/stepflow/pkg/flow"

// Kind is the rendered type of a state.
type Kind string

const (
	KindTask     Kind = "task"
	KindChoice   Kind = "choice"
	KindMap      Kind = "map"
	KindParallel Kind = "parallel"
	KindPass     Kind = "pass"
	KindWait     Kind = "wait"
	KindSucceed  Kind = "succeed"
	KindFail     Kind = "fail"
	KindInvoke   Kind = "invoke"
)

// ChoiceEdge is one conditional edge of a Choice.
type ChoiceEdge struct {
	Condition flow.Condition
	Next      flow.Node
}

// CatchEdge routes errors matching Match to Handler.
type CatchEdge struct {
	Handler flow.Node
	Match   flow.ErrorMatch
}

// State holds what every node kind shares. It is embedded by the concrete
// node types, which add only the capabilities their kind supports.
type State struct {
	id    string
	kind  Kind
	props any
	retry *Retrier

	next      flow.Node
	catches   []CatchEdge
	choices   []ChoiceEdge
	otherwise flow.Node
	iterator  flow.Node
	branches  []flow.Node
}

func newState(id string, kind Kind, props any) *State {
	return &State{id: id, kind: kind, props: props}
}

// ID returns the state identifier.
func (s *State) ID() string { return s.id }

// Kind returns the rendered state type.
func (s *State) Kind() Kind { return s.kind }

// Props returns the normalized properties the state was built with.
func (s *State) Props() any { return s.props }

// Successor returns the fall-through successor, or nil.
func (s *State) Successor() flow.Node { return s.next }

// Catches returns the attached catch edges in order.
func (s *State) Catches() []CatchEdge { return s.catches }

func (s *State) state() *State { return s }

// stateful is implemented by every node in this package.
type stateful interface {
	flow.Node
	state() *State
}

// Task is a unit of work: a caller-built task or an external invoke.
type Task struct{ *State }

// NewTask returns a caller-built task node for flow.Program.Execute and
// flow.Program.TryExecute.
func NewTask(id string, props TaskProps) *Task {
	return &Task{newState(id, KindTask, props)}
}

// Next sets the successor and returns the task.
func (t *Task) Next(next flow.Node) flow.Node {
	t.next = next
	return t
}

// AddCatch appends a catch edge.
func (t *Task) AddCatch(handler flow.Node, match flow.ErrorMatch) {
	t.catches = append(t.catches, CatchEdge{Handler: handler, Match: match})
}

// Retrier returns the normalized retry policy of an invoke task, or nil.
func (t *Task) Retrier() *Retrier { return t.retry }

// NewInvoke returns an external invoke node. retry may be nil.
func NewInvoke(id string, props InvokeProps, retry *Retrier) *Task {
	t := &Task{newState(id, KindInvoke, props)}
	t.retry = retry
	return t
}

// Flow is a pass or wait state: it can only be chained.
type Flow struct{ *State }

// NewPass returns a pass state.
func NewPass(id string, props PassProps) *Flow {
	return &Flow{newState(id, KindPass, props)}
}

// NewWait returns a wait state.
func NewWait(id string, props WaitProps) *Flow {
	return &Flow{newState(id, KindWait, props)}
}

// Next sets the successor and returns the state.
func (f *Flow) Next(next flow.Node) flow.Node {
	f.next = next
	return f
}

// Choice branches on ordered conditions with a default.
type Choice struct{ *State }

// NewChoice returns a choice state.
func NewChoice(id string, props ChoiceProps) *Choice {
	return &Choice{newState(id, KindChoice, props)}
}

// When appends a conditional edge.
func (c *Choice) When(cond flow.Condition, next flow.Node) {
	c.choices = append(c.choices, ChoiceEdge{Condition: cond, Next: next})
}

// Otherwise sets the default edge.
func (c *Choice) Otherwise(next flow.Node) {
	c.otherwise = next
}

// Choices returns the conditional edges in order.
func (c *Choice) Choices() []ChoiceEdge { return c.choices }

// Default returns the otherwise edge.
func (c *Choice) Default() flow.Node { return c.otherwise }

// Map runs its iterator once per input item.
type Map struct{ *State }

// NewMap returns a map state.
func NewMap(id string, props MapProps) *Map {
	return &Map{newState(id, KindMap, props)}
}

// Next sets the successor and returns the map.
func (m *Map) Next(next flow.Node) flow.Node {
	m.next = next
	return m
}

// AddCatch appends a catch edge.
func (m *Map) AddCatch(handler flow.Node, match flow.ErrorMatch) {
	m.catches = append(m.catches, CatchEdge{Handler: handler, Match: match})
}

// Iterator sets the body entry node.
func (m *Map) Iterator(body flow.Node) {
	m.iterator = body
}

// Body returns the iterator entry node.
func (m *Map) Body() flow.Node { return m.iterator }

// Parallel runs all of its branches.
type Parallel struct{ *State }

// NewParallel returns a parallel state.
func NewParallel(id string, props ParallelProps) *Parallel {
	return &Parallel{newState(id, KindParallel, props)}
}

// Next sets the successor and returns the parallel state.
func (p *Parallel) Next(next flow.Node) flow.Node {
	p.next = next
	return p
}

// AddCatch appends a catch edge.
func (p *Parallel) AddCatch(handler flow.Node, match flow.ErrorMatch) {
	p.catches = append(p.catches, CatchEdge{Handler: handler, Match: match})
}

// Branch appends a branch entry node.
func (p *Parallel) Branch(body flow.Node) {
	p.branches = append(p.branches, body)
}

// Branches returns the branch entry nodes in order.
func (p *Parallel) Branches() []flow.Node { return p.branches }

// Terminal is a succeed or fail state. It has no outgoing edges.
type Terminal struct{ *State }

// NewSucceed returns a succeed state.
func NewSucceed(id string, props SucceedProps) *Terminal {
	return &Terminal{newState(id, KindSucceed, props)}
}

// NewFail returns a fail state.
func NewFail(id string, props FailProps) *Terminal {
	return &Terminal{newState(id, KindFail, props)}
}

var (
	_ flow.TaskNode  = (*Task)(nil)
	_ flow.Chainable = (*Flow)(nil)
	_ flow.Decider   = (*Choice)(nil)
	_ flow.Chainable = (*Map)(nil)
	_ flow.Catcher   = (*Map)(nil)
	_ flow.Mapper    = (*Map)(nil)
	_ flow.Chainable = (*Parallel)(nil)
	_ flow.Catcher   = (*Parallel)(nil)
	_ flow.Forker    = (*Parallel)(nil)
	_ flow.Node      = (*Terminal)(nil)
)
