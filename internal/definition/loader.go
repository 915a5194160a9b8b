// Package definition loads declarative program documents (JSON or YAML),
// validates them against an embedded JSON Schema and compiles them into
// flow programs backed by the graph node set.
package definition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/telemetry"
	"github.com/rendis/stepflow/pkg/flow"
	"github.com/rendis/stepflow/pkg/graph"
	"github.com/rendis/stepflow/pkg/schema"
)

// Format is the encoding of a definition document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format from a file extension. Anything that is
// not .yaml or .yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Loader parses, validates and compiles definitions. It is safe for
// concurrent use.
type Loader struct {
	schema  *jsonschema.Schema
	engines *expressions.Engines
}

// NewLoader compiles the program schema. engines checks decision conditions
// and pass transforms; nil disables those checks.
func NewLoader(engines *expressions.Engines) (*Loader, error) {
	s, err := compileProgramSchema()
	if err != nil {
		return nil, err
	}
	return &Loader{schema: s, engines: engines}, nil
}

// Parse decodes data, validates the document against the program schema
// and returns the typed definition.
func (l *Loader) Parse(data []byte, format Format) (*schema.ProgramDefinition, error) {
	raw, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid JSON document").WithCause(err)
	}
	if err := l.schema.Validate(doc); err != nil {
		return nil, toFlowError(err)
	}

	var def schema.ProgramDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode definition").WithCause(err)
	}
	return &def, nil
}

// Validate checks an already decoded definition against the program schema.
func (l *Loader) Validate(def *schema.ProgramDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "program definition is nil")
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize definition").WithCause(err)
	}
	if err := l.schema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// Compile turns def into a Program. Decision conditions are compiled by
// their language engine; every failing condition is reported.
func (l *Loader) Compile(def *schema.ProgramDefinition) (*flow.Program, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "program definition is nil")
	}

	c := &compiler{engines: l.engines, result: &schema.ValidationResult{}}
	p := c.program("steps", def.Steps)
	if err := c.result.ToError(); err != nil {
		return nil, err
	}
	return p, nil
}

// Check aggregates every issue def has short of node construction: schema
// violations, then condition compile errors together with the structural
// report of the compiled program.
func (l *Loader) Check(def *schema.ProgramDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err := l.Validate(def); err != nil {
		addViolations(result, err)
		return result
	}

	c := &compiler{engines: l.engines, result: result}
	p := c.program("steps", def.Steps)
	result.Merge(p.Report())
	return result
}

// CheckDocument is Check for an undecoded document. Schema violations are
// reported against the raw document, so unknown fields are not lost.
func (l *Loader) CheckDocument(data []byte, format Format) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	raw, err := toJSON(data, format)
	if err != nil {
		addViolations(result, err)
		return result
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		result.AddError("definition", schema.ErrCodeValidation, err.Error())
		return result
	}
	if err := l.schema.Validate(doc); err != nil {
		addViolations(result, toFlowError(err))
		return result
	}

	var def schema.ProgramDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		result.AddError("definition", schema.ErrCodeValidation, err.Error())
		return result
	}
	return l.Check(&def)
}

func addViolations(result *schema.ValidationResult, err error) {
	if fe, ok := err.(*schema.FlowError); ok {
		if violations, ok := fe.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("definition", schema.ErrCodeValidation, v)
			}
			return
		}
	}
	result.AddError("definition", schema.ErrCodeValidation, err.Error())
}

// Load is Parse followed by Compile.
func (l *Loader) Load(data []byte, format Format) (*schema.ProgramDefinition, *flow.Program, error) {
	def, err := l.Parse(data, format)
	if err != nil {
		return nil, nil, err
	}
	p, err := l.Compile(def)
	if err != nil {
		return nil, nil, err
	}
	return def, p, nil
}

// Factory returns a graph factory carrying the definition's invoke defaults
// and the loader's engines.
func (l *Loader) Factory(def *schema.ProgramDefinition, opts ...graph.FactoryOption) *graph.Factory {
	base := []graph.FactoryOption{graph.WithEngines(l.engines)}
	if def != nil && def.Defaults != nil && def.Defaults.Invoke != nil {
		base = append(base, graph.WithInvokeDefaults(def.Defaults.Invoke))
	}
	return graph.NewFactory(append(base, opts...)...)
}

// Build compiles def, materializes it with a fresh Factory and renders the
// resulting graph.
func (l *Loader) Build(ctx context.Context, def *schema.ProgramDefinition, opts ...flow.BuildOption) (out *graph.Definition, err error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "program definition is nil")
	}
	ctx, span := telemetry.Tracer("").Start(ctx, "definition.Build")
	span.SetAttributes(
		attribute.String("stepflow.definition.name", def.Name),
		attribute.Int("stepflow.definition.steps", len(def.Steps)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("stepflow.graph.states", len(out.States)))
		}
		span.End()
	}()

	p, err := l.Compile(def)
	if err != nil {
		return nil, err
	}
	if def.Name != "" {
		ctx = logging.WithProgram(ctx, def.Name)
	}
	head, err := p.Build(ctx, l.Factory(def), opts...)
	if err != nil {
		return nil, err
	}
	return graph.Render(head)
}

func toJSON(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return data, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid YAML document").WithCause(err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "YAML document is not JSON compatible").WithCause(err)
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported format %q", format)
	}
}

type compiler struct {
	engines *expressions.Engines
	result  *schema.ValidationResult
}

func (c *compiler) program(path string, steps []schema.StepDefinition) *flow.Program {
	p := flow.New()
	for i, s := range steps {
		c.step(p, fmt.Sprintf("%s[%d]", path, i), s)
	}
	return p
}

func (c *compiler) step(p *flow.Program, path string, s schema.StepDefinition) {
	switch s.Type {
	case schema.StepTypeTask:
		task := graph.NewTask(s.ID, graph.TaskProps{Resource: s.Resource, Comment: s.Comment})
		if len(s.Catches) > 0 {
			p.TryExecute(task, catches(s.Catches)...)
		} else {
			p.Execute(task)
		}

	case schema.StepTypeChoice:
		choices := make([]flow.Choice, len(s.Choices))
		for i, ch := range s.Choices {
			cond := graph.Condition{Lang: ch.Lang, Expression: ch.Condition}
			c.checkCondition(fmt.Sprintf("%s.choices[%d].condition", path, i), cond)
			choices[i] = flow.Choice{When: cond, Next: ch.Next}
		}
		p.Decision(s.ID, flow.DecisionProps{
			Choices:   choices,
			Otherwise: s.Otherwise,
			Props:     graph.ChoiceProps{Comment: s.Comment},
		})

	case schema.StepTypeMap:
		p.Map(s.ID, flow.MapProps{
			Iterator: c.program(path+".iterator", s.Iterator),
			Catches:  catches(s.Catches),
			Props: graph.MapProps{
				Comment:        s.Comment,
				ItemsPath:      s.ItemsPath,
				MaxConcurrency: s.MaxConcurrency,
			},
		})

	case schema.StepTypeParallel:
		branches := make([]*flow.Program, len(s.Branches))
		for i, b := range s.Branches {
			branches[i] = c.program(fmt.Sprintf("%s.branches[%d]", path, i), b)
		}
		p.Parallel(s.ID, flow.ParallelProps{
			Branches: branches,
			Catches:  catches(s.Catches),
			Props:    graph.ParallelProps{Comment: s.Comment},
		})

	case schema.StepTypePass:
		p.Pass(s.ID, graph.PassProps{Comment: s.Comment, Result: s.Result, Transform: s.Transform})

	case schema.StepTypeWait:
		p.Wait(s.ID, graph.WaitProps{
			Comment:   s.Comment,
			Seconds:   s.Seconds,
			Timestamp: s.Timestamp,
			Schedule:  s.Schedule,
		})

	case schema.StepTypeSucceed:
		p.Succeed(s.ID, graph.SucceedProps{Comment: s.Comment})

	case schema.StepTypeFail:
		p.Fail(s.ID, graph.FailProps{Comment: s.Comment, Error: s.Error, Cause: s.Cause})

	case schema.StepTypeInvoke:
		p.Invoke(s.ID, flow.InvokeProps{
			Catches: catches(s.Catches),
			Retry:   s.Retry,
			Props: graph.InvokeProps{
				Comment:    s.Comment,
				Function:   s.Function,
				Payload:    s.Payload,
				Parameters: s.Parameters,
				Timeout:    s.Timeout,
			},
		})

	case schema.StepTypeEnd:
		p.End()

	case schema.StepTypeGoto:
		p.Next(s.Target)

	default:
		c.result.AddError(path+".type", schema.ErrCodeValidation, fmt.Sprintf("unknown step type %q", s.Type))
	}
}

func (c *compiler) checkCondition(path string, cond graph.Condition) {
	if c.engines == nil {
		return
	}
	e, err := c.engines.Get(cond.Lang)
	if err != nil {
		c.result.AddError(path, schema.ErrCodeValidation, err.Error())
		return
	}
	if err := e.Compile(cond.Expression); err != nil {
		c.result.AddError(path, schema.ErrCodeValidation, err.Error())
	}
}

func catches(defs []schema.CatchDefinition) []flow.Catch {
	if len(defs) == 0 {
		return nil
	}
	out := make([]flow.Catch, len(defs))
	for i, d := range defs {
		out[i] = flow.Catch{
			Handler: d.Handler,
			Match:   flow.ErrorMatch{Errors: d.Errors, ResultPath: d.ResultPath},
		}
	}
	return out
}
