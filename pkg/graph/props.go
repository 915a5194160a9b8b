package graph

// TaskProps configures a caller-built task.
type TaskProps struct {
	Resource string
	Comment  string
}

// Condition is a decision predicate in a named expression language. An
// empty Lang means cel.
type Condition struct {
	Lang       string `json:"lang,omitempty"`
	Expression string `json:"expression"`
}

// ChoiceProps configures a choice state.
type ChoiceProps struct {
	Comment string
}

// MapProps configures a map state.
type MapProps struct {
	Comment        string
	ItemsPath      string
	MaxConcurrency int
}

// ParallelProps configures a parallel state.
type ParallelProps struct {
	Comment string
}

// PassProps configures a pass state. Transform is a jq filter applied to
// the state input; Result is a fixed output. At most one may be set.
type PassProps struct {
	Comment   string
	Result    any
	Transform string
}

// WaitProps configures a wait state. Exactly one of Seconds, Timestamp
// (RFC 3339) or Schedule (five-field cron) must be set.
type WaitProps struct {
	Comment   string
	Seconds   int
	Timestamp string
	Schedule  string
}

// SucceedProps configures a succeed state.
type SucceedProps struct {
	Comment string
}

// FailProps configures a fail state.
type FailProps struct {
	Comment string
	Error   string
	Cause   string
}

// InvokeProps configures an external function invoke. Parameters, when
// set, become the payload; setting both is an error, including when the
// payload comes from the factory's invoke defaults.
type InvokeProps struct {
	Comment    string
	Function   string
	Payload    map[string]any
	Parameters map[string]any
	Timeout    string
}
