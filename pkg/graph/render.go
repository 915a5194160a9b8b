package graph

import (
	"fmt"

	"github.com/rendis/stepflow/pkg/flow"
	"github.com/rendis/stepflow/pkg/schema"
)

// Definition is the serializable form of a built graph. Two graphs with
// equal Definitions have the same states and edges.
type Definition struct {
	StartAt string                      `json:"start_at"`
	States  map[string]*StateDefinition `json:"states"`
}

// StateDefinition is one rendered state. Edge fields name states of the
// same Definition; Iterator and Branches are nested Definitions.
type StateDefinition struct {
	Type    Kind   `json:"type"`
	Comment string `json:"comment,omitempty"`
	Next    string `json:"next,omitempty"`
	End     bool   `json:"end,omitempty"`

	Resource string `json:"resource,omitempty"`

	Choices []ChoiceRule `json:"choices,omitempty"`
	Default string       `json:"default,omitempty"`

	Catch []CatchRule `json:"catch,omitempty"`

	Iterator       *Definition `json:"iterator,omitempty"`
	ItemsPath      string      `json:"items_path,omitempty"`
	MaxConcurrency int         `json:"max_concurrency,omitempty"`

	Branches []*Definition `json:"branches,omitempty"`

	Result    any    `json:"result,omitempty"`
	Transform string `json:"transform,omitempty"`

	Seconds   int    `json:"seconds,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Schedule  string `json:"schedule,omitempty"`

	Error string `json:"error,omitempty"`
	Cause string `json:"cause,omitempty"`

	Function string         `json:"function,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Timeout  string         `json:"timeout,omitempty"`
	Retry    *RetryRule     `json:"retry,omitempty"`
}

// ChoiceRule is one rendered conditional edge.
type ChoiceRule struct {
	Condition Condition `json:"condition"`
	Next      string    `json:"next"`
}

// CatchRule is one rendered catch edge.
type CatchRule struct {
	Errors     []string `json:"errors,omitempty"`
	ResultPath string   `json:"result_path,omitempty"`
	Next       string   `json:"next"`
}

// RetryRule is a rendered retry policy with its per-attempt delays.
type RetryRule struct {
	Errors   []string `json:"errors,omitempty"`
	Max      int      `json:"max"`
	Backoff  string   `json:"backoff"`
	Delays   []string `json:"delays,omitempty"`
	MaxDelay string   `json:"max_delay,omitempty"`
}

// Render walks the graph entered at head and returns its Definition.
// Every reachable node must come from this package.
func Render(head flow.Node) (*Definition, error) {
	if head == nil {
		return nil, schema.NewError(schema.ErrCodeEmptyProgram, "nothing to render")
	}
	r := &renderer{def: &Definition{States: make(map[string]*StateDefinition)}, seen: make(map[string]*State)}
	if err := r.walk(head); err != nil {
		return nil, err
	}
	r.def.StartAt = head.ID()
	return r.def, nil
}

type renderer struct {
	def  *Definition
	seen map[string]*State
}

// walk renders n and everything reachable from it in the same scope.
func (r *renderer) walk(n flow.Node) error {
	if n == nil {
		return nil
	}
	sn, ok := n.(stateful)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConstruction,
			"cannot render node of type %T", n).WithStep(n.ID())
	}
	s := sn.state()
	if prev, ok := r.seen[s.id]; ok {
		if prev != s {
			return schema.NewError(schema.ErrCodeDuplicateID,
				"two distinct states share an id").WithStep(s.id)
		}
		return nil
	}
	r.seen[s.id] = s

	sd, err := renderState(s)
	if err != nil {
		return err
	}
	r.def.States[s.id] = sd

	for _, c := range s.catches {
		if err := r.walk(c.Handler); err != nil {
			return err
		}
	}
	for _, c := range s.choices {
		if err := r.walk(c.Next); err != nil {
			return err
		}
	}
	if err := r.walk(s.otherwise); err != nil {
		return err
	}
	return r.walk(s.next)
}

func renderState(s *State) (*StateDefinition, error) {
	sd := &StateDefinition{Type: s.kind}

	switch s.kind {
	case KindChoice, KindSucceed, KindFail:
	default:
		if s.next != nil {
			sd.Next = s.next.ID()
		} else {
			sd.End = true
		}
	}

	for _, c := range s.catches {
		sd.Catch = append(sd.Catch, CatchRule{
			Errors:     c.Match.Errors,
			ResultPath: c.Match.ResultPath,
			Next:       c.Handler.ID(),
		})
	}
	for _, c := range s.choices {
		sd.Choices = append(sd.Choices, ChoiceRule{Condition: conditionOf(c.Condition), Next: c.Next.ID()})
	}
	if s.otherwise != nil {
		sd.Default = s.otherwise.ID()
	}

	if s.iterator != nil {
		body, err := Render(s.iterator)
		if err != nil {
			return nil, err
		}
		sd.Iterator = body
	}
	for _, b := range s.branches {
		body, err := Render(b)
		if err != nil {
			return nil, err
		}
		sd.Branches = append(sd.Branches, body)
	}

	switch p := s.props.(type) {
	case TaskProps:
		sd.Resource, sd.Comment = p.Resource, p.Comment
	case ChoiceProps:
		sd.Comment = p.Comment
	case MapProps:
		sd.Comment, sd.ItemsPath, sd.MaxConcurrency = p.Comment, p.ItemsPath, p.MaxConcurrency
	case ParallelProps:
		sd.Comment = p.Comment
	case PassProps:
		sd.Comment, sd.Result, sd.Transform = p.Comment, p.Result, p.Transform
	case WaitProps:
		sd.Comment, sd.Seconds, sd.Timestamp, sd.Schedule = p.Comment, p.Seconds, p.Timestamp, p.Schedule
	case SucceedProps:
		sd.Comment = p.Comment
	case FailProps:
		sd.Comment, sd.Error, sd.Cause = p.Comment, p.Error, p.Cause
	case InvokeProps:
		sd.Comment, sd.Function, sd.Payload, sd.Timeout = p.Comment, p.Function, p.Payload, p.Timeout
	}
	sd.Retry = retryRule(s.retry)

	return sd, nil
}

// conditionOf normalizes the opaque conditions a Choice may hold.
func conditionOf(c flow.Condition) Condition {
	if cond, ok := asCondition(c); ok {
		return cond
	}
	return Condition{Expression: fmt.Sprint(c)}
}

// asCondition accepts Condition, a non-nil *Condition or a bare expression
// string in the default language.
func asCondition(c flow.Condition) (Condition, bool) {
	switch v := c.(type) {
	case Condition:
		return v, true
	case *Condition:
		if v == nil {
			return Condition{}, false
		}
		return *v, true
	case string:
		return Condition{Expression: v}, true
	default:
		return Condition{}, false
	}
}

func retryRule(r *Retrier) *RetryRule {
	if r == nil {
		return nil
	}
	rule := &RetryRule{Errors: r.Errors, Max: r.Max, Backoff: r.Backoff}
	for _, d := range r.Schedule() {
		rule.Delays = append(rule.Delays, d.String())
	}
	if r.MaxDelay > 0 {
		rule.MaxDelay = r.MaxDelay.String()
	}
	return rule
}
