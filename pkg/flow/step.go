package flow

import (
	"fmt"

	"github.com/rendis/stepflow/pkg/schema"
)

// StepKind enumerates the closed set of step kinds a Program can hold.
type StepKind int

const (
	KindExecute StepKind = iota
	KindTryExecute
	KindDecision
	KindMap
	KindParallel
	KindPass
	KindWait
	KindSucceed
	KindFail
	KindInvoke
	KindEnd
	KindJump
)

var kindNames = [...]string{
	KindExecute:    "execute",
	KindTryExecute: "try_execute",
	KindDecision:   "decision",
	KindMap:        "map",
	KindParallel:   "parallel",
	KindPass:       "pass",
	KindWait:       "wait",
	KindSucceed:    "succeed",
	KindFail:       "fail",
	KindInvoke:     "invoke",
	KindEnd:        "end",
	KindJump:       "jump",
}

func (k StepKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// Condition is the predicate of a decision branch. It is passed verbatim to
// the decision node.
type Condition any

// Choice is one conditional branch of a decision step.
type Choice struct {
	When Condition
	Next string
}

// ErrorMatch selects which errors a catch handles. Opaque to the core.
type ErrorMatch struct {
	Errors     []string
	ResultPath string
}

// Catch routes errors matching Match to the step named Handler. Handler must
// name a step of the same Program.
type Catch struct {
	Handler string
	Match   ErrorMatch
}

// DecisionProps configures a decision step.
type DecisionProps struct {
	Choices   []Choice
	Otherwise string
	Props     any
}

func (p DecisionProps) conditions() []Condition {
	if len(p.Choices) == 0 {
		return nil
	}
	out := make([]Condition, len(p.Choices))
	for i, c := range p.Choices {
		out[i] = c.When
	}
	return out
}

// MapProps configures a map step. Iterator is materialized as the body.
type MapProps struct {
	Iterator *Program
	Catches  []Catch
	Props    any
}

// ParallelProps configures a parallel step. Each branch is materialized on
// its own.
type ParallelProps struct {
	Branches []*Program
	Catches  []Catch
	Props    any
}

// InvokeProps configures an external invoke step.
type InvokeProps struct {
	Catches []Catch
	Retry   *schema.RetryPolicy
	Props   any
}

// step is the sealed set of step descriptors.
type step interface {
	kind() StepKind
	// ownID returns the step's own identifier; End and Jump have none.
	ownID() (string, bool)
	// ownedIDs returns the own id plus every id owned by child programs.
	ownedIDs() []string
	// targetIDs returns the ids this step references in its own scope.
	targetIDs() []string
	children() []*Program
}

type executeStep struct {
	node Chainable
}

type tryExecuteStep struct {
	node    TaskNode
	catches []Catch
}

type decisionStep struct {
	id    string
	props DecisionProps
}

type mapStep struct {
	id    string
	props MapProps
}

type parallelStep struct {
	id    string
	props ParallelProps
}

// propsStep covers pass, wait, succeed and fail: an id and a property bag.
type propsStep struct {
	k     StepKind
	id    string
	props any
}

type invokeStep struct {
	id    string
	props InvokeProps
}

type endStep struct{}

type jumpStep struct {
	target string
}

func (s executeStep) kind() StepKind    { return KindExecute }
func (s tryExecuteStep) kind() StepKind { return KindTryExecute }
func (s decisionStep) kind() StepKind   { return KindDecision }
func (s mapStep) kind() StepKind        { return KindMap }
func (s parallelStep) kind() StepKind   { return KindParallel }
func (s propsStep) kind() StepKind      { return s.k }
func (s invokeStep) kind() StepKind     { return KindInvoke }
func (s endStep) kind() StepKind        { return KindEnd }
func (s jumpStep) kind() StepKind       { return KindJump }

func (s executeStep) ownID() (string, bool)    { return s.node.ID(), true }
func (s tryExecuteStep) ownID() (string, bool) { return s.node.ID(), true }
func (s decisionStep) ownID() (string, bool)   { return s.id, true }
func (s mapStep) ownID() (string, bool)        { return s.id, true }
func (s parallelStep) ownID() (string, bool)   { return s.id, true }
func (s propsStep) ownID() (string, bool)      { return s.id, true }
func (s invokeStep) ownID() (string, bool)     { return s.id, true }
func (s endStep) ownID() (string, bool)        { return "", false }
func (s jumpStep) ownID() (string, bool)       { return "", false }

func (s executeStep) ownedIDs() []string    { return []string{s.node.ID()} }
func (s tryExecuteStep) ownedIDs() []string { return []string{s.node.ID()} }
func (s decisionStep) ownedIDs() []string   { return []string{s.id} }
func (s propsStep) ownedIDs() []string      { return []string{s.id} }
func (s invokeStep) ownedIDs() []string     { return []string{s.id} }
func (s endStep) ownedIDs() []string        { return nil }
func (s jumpStep) ownedIDs() []string       { return nil }

func (s mapStep) ownedIDs() []string {
	return append([]string{s.id}, s.props.Iterator.StepIDs()...)
}

func (s parallelStep) ownedIDs() []string {
	ids := []string{s.id}
	for _, b := range s.props.Branches {
		ids = append(ids, b.StepIDs()...)
	}
	return ids
}

func (s executeStep) targetIDs() []string    { return nil }
func (s tryExecuteStep) targetIDs() []string { return handlerIDs(s.catches) }
func (s mapStep) targetIDs() []string        { return handlerIDs(s.props.Catches) }
func (s parallelStep) targetIDs() []string   { return handlerIDs(s.props.Catches) }
func (s propsStep) targetIDs() []string      { return nil }
func (s invokeStep) targetIDs() []string     { return handlerIDs(s.props.Catches) }
func (s endStep) targetIDs() []string        { return nil }
func (s jumpStep) targetIDs() []string       { return []string{s.target} }

func (s decisionStep) targetIDs() []string {
	ids := make([]string, 0, len(s.props.Choices)+1)
	seen := make(map[string]bool, len(s.props.Choices))
	for _, c := range s.props.Choices {
		if !seen[c.Next] {
			seen[c.Next] = true
			ids = append(ids, c.Next)
		}
	}
	return append(ids, s.props.Otherwise)
}

func (s executeStep) children() []*Program    { return nil }
func (s tryExecuteStep) children() []*Program { return nil }
func (s decisionStep) children() []*Program   { return nil }
func (s mapStep) children() []*Program        { return []*Program{s.props.Iterator} }
func (s parallelStep) children() []*Program   { return s.props.Branches }
func (s propsStep) children() []*Program      { return nil }
func (s invokeStep) children() []*Program     { return nil }
func (s endStep) children() []*Program        { return nil }
func (s jumpStep) children() []*Program       { return nil }

// handlerIDs returns the distinct catch handler ids in declaration order.
func handlerIDs(catches []Catch) []string {
	if len(catches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(catches))
	seen := make(map[string]bool, len(catches))
	for _, c := range catches {
		if !seen[c.Handler] {
			seen[c.Handler] = true
			ids = append(ids, c.Handler)
		}
	}
	return ids
}
