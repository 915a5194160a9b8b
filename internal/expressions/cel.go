package expressions

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/stepflow/pkg/schema"
)

// CELEngine checks decision conditions written in Google's Common Expression
// Language. A condition must type-check to bool (or dyn).
// Thread-safe: checked ASTs are cached by expression text.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]*cel.Ast
}

// NewCELEngine creates a CEL engine whose environment exposes the data a
// decision sees at run time:
//   - input:   map(string, dyn), the state input
//   - context: map(string, dyn), execution context
//   - iter:    map(string, dyn), the current map item inside an iterator
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("input", mapType),
		cel.Variable("context", mapType),
		cel.Variable("iter", mapType),
	)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "create CEL environment").WithCause(err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]*cel.Ast),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compile parses and type-checks expression.
func (e *CELEngine) Compile(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	_, err := e.getOrCompile(expression)
	return err
}

// getOrCompile returns a cached checked AST or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (*cel.Ast, error) {
	e.mu.RLock()
	if ast, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return ast, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if ast, ok := e.cache[expression]; ok {
		return ast, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL condition %q must be bool, got %s", expression, out.String()).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = ast
	return ast, nil
}

var _ Engine = (*CELEngine)(nil)
