package schema

// ProgramDefinition is the declarative, JSON/YAML-serializable form of a
// step program. The definition loader turns it into a flow.Program.
type ProgramDefinition struct {
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Steps       []StepDefinition `json:"steps"`
	Defaults    *Defaults        `json:"defaults,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// Defaults holds build-time defaults merged into matching steps.
type Defaults struct {
	Invoke *InvokeDefaults `json:"invoke,omitempty"`
}

// InvokeDefaults are merged under every invoke step's own properties. The
// function is always named by the step itself.
type InvokeDefaults struct {
	Payload map[string]any `json:"payload,omitempty"`
	Timeout string         `json:"timeout,omitempty"`
}

// StepDefinition describes one authored instruction. Which fields apply
// depends on Type.
type StepDefinition struct {
	ID      string   `json:"id,omitempty"`
	Type    StepType `json:"type"`
	Comment string   `json:"comment,omitempty"`

	// task
	Resource string `json:"resource,omitempty"`

	// choice
	Choices   []ChoiceDefinition `json:"choices,omitempty"`
	Otherwise string             `json:"otherwise,omitempty"`

	// task, map, parallel, invoke
	Catches []CatchDefinition `json:"catches,omitempty"`

	// map
	Iterator       []StepDefinition `json:"iterator,omitempty"`
	ItemsPath      string           `json:"items_path,omitempty"`
	MaxConcurrency int              `json:"max_concurrency,omitempty"`

	// parallel
	Branches [][]StepDefinition `json:"branches,omitempty"`

	// pass
	Result    any    `json:"result,omitempty"`
	Transform string `json:"transform,omitempty"`

	// wait
	Seconds   int    `json:"seconds,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Schedule  string `json:"schedule,omitempty"`

	// fail
	Error string `json:"error,omitempty"`
	Cause string `json:"cause,omitempty"`

	// invoke
	Function   string         `json:"function,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Retry      *RetryPolicy   `json:"retry,omitempty"`

	// goto
	Target string `json:"target,omitempty"`
}

// StepType enumerates the kinds of steps in a program definition.
type StepType string

const (
	StepTypeTask     StepType = "task"
	StepTypeChoice   StepType = "choice"
	StepTypeMap      StepType = "map"
	StepTypeParallel StepType = "parallel"
	StepTypePass     StepType = "pass"
	StepTypeWait     StepType = "wait"
	StepTypeSucceed  StepType = "succeed"
	StepTypeFail     StepType = "fail"
	StepTypeInvoke   StepType = "invoke"
	StepTypeEnd      StepType = "end"
	StepTypeGoto     StepType = "goto"
)

// ChoiceDefinition is one branch of a choice step.
type ChoiceDefinition struct {
	Condition string `json:"condition"`
	Lang      string `json:"lang,omitempty"` // cel | expr (default: cel)
	Next      string `json:"next"`
}

// CatchDefinition routes matching errors to a handler step in the same scope.
type CatchDefinition struct {
	Handler    string   `json:"handler"`
	Errors     []string `json:"errors,omitempty"`
	ResultPath string   `json:"result_path,omitempty"`
}

// RetryPolicy configures retry behavior for an invoke step.
type RetryPolicy struct {
	Errors   []string `json:"errors,omitempty"`
	Max      int      `json:"max"`                 // max retry attempts
	Backoff  string   `json:"backoff,omitempty"`   // none | constant | linear | exponential (default: none)
	Delay    string   `json:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	MaxDelay string   `json:"max_delay,omitempty"` // cap on computed delay
}
