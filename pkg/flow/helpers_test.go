package flow

import (
	"context"
	"sync"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// --- helpers ---

type testChoice struct {
	when Condition
	next Node
}

type testCatch struct {
	handler Node
	match   ErrorMatch
}

// testNode records every edge the materializer attaches.
type testNode struct {
	id        string
	kind      StepKind
	props     any
	retry     *schema.RetryPolicy
	next      Node
	nextCalls int
	catches   []testCatch
	choices   []testChoice
	otherwise Node
	iterator  Node
	branches  []Node
}

func (n *testNode) ID() string { return n.id }

func (n *testNode) Next(next Node) Node {
	n.next = next
	n.nextCalls++
	return n
}

func (n *testNode) AddCatch(handler Node, match ErrorMatch) {
	n.catches = append(n.catches, testCatch{handler: handler, match: match})
}

func (n *testNode) When(cond Condition, next Node) {
	n.choices = append(n.choices, testChoice{when: cond, next: next})
}

func (n *testNode) Otherwise(next Node) { n.otherwise = next }
func (n *testNode) Iterator(body Node)  { n.iterator = body }
func (n *testNode) Branch(body Node)    { n.branches = append(n.branches, body) }

// bareNode has no capability beyond an id.
type bareNode struct{ id string }

func (n *bareNode) ID() string { return n.id }

func task(id string) *testNode {
	return &testNode{id: id, kind: KindExecute}
}

// testFactory builds testNodes and records what it was asked for.
type testFactory struct {
	mu       sync.Mutex
	specs    []NodeSpec
	stepIDs  []string
	errs     map[string]error
	bare     map[string]bool
	nilNodes map[string]bool
}

func newTestFactory() *testFactory {
	return &testFactory{
		errs:     map[string]error{},
		bare:     map[string]bool{},
		nilNodes: map[string]bool{},
	}
}

func (f *testFactory) NewNode(ctx context.Context, spec NodeSpec) (Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.specs = append(f.specs, spec)
	f.stepIDs = append(f.stepIDs, logging.StepID(ctx))

	if err := f.errs[spec.ID]; err != nil {
		return nil, err
	}
	if f.nilNodes[spec.ID] {
		return nil, nil
	}
	if f.bare[spec.ID] {
		return &bareNode{id: spec.ID}, nil
	}
	return &testNode{id: spec.ID, kind: spec.Kind, props: spec.Props, retry: spec.Retry}, nil
}

func (f *testFactory) built() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.specs))
	for i, s := range f.specs {
		ids[i] = s.ID
	}
	return ids
}

func asTest(n Node) *testNode {
	tn, _ := n.(*testNode)
	return tn
}

func flowErr(err error) *schema.FlowError {
	fe, _ := err.(*schema.FlowError)
	return fe
}
