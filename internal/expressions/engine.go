package expressions

import (
	"fmt"
	"sort"
)

// Engine compiles expressions embedded in program definitions. Decision
// conditions use cel or expr; pass transforms use jq. Nothing is evaluated
// at build time, so Compile is the whole contract.
type Engine interface {
	Name() string
	Compile(expression string) error
}

// DefaultConditionLang is used when a condition names no language.
const DefaultConditionLang = "cel"

// Engines is a set of engines keyed by name.
type Engines struct {
	byName map[string]Engine
}

// NewEngines returns the cel, expr and jq engines.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewEnginesFrom(celEngine, NewExprEngine(), NewGoJQEngine()), nil
}

// NewEnginesFrom builds a set from explicit engines. A later engine with the
// same name replaces an earlier one.
func NewEnginesFrom(engines ...Engine) *Engines {
	byName := make(map[string]Engine, len(engines))
	for _, e := range engines {
		byName[e.Name()] = e
	}
	return &Engines{byName: byName}
}

// Get returns the engine registered under name. An empty name selects
// DefaultConditionLang.
func (s *Engines) Get(name string) (Engine, error) {
	if name == "" {
		name = DefaultConditionLang
	}
	e, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown expression language %q (available: %v)", name, s.Names())
	}
	return e, nil
}

// Names returns the registered engine names, sorted.
func (s *Engines) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
