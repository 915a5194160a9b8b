package flow

import (
	"fmt"

	"github.com/rendis/stepflow/pkg/schema"
)

// Validate runs the four structural checks in order and returns the first
// failure: emptiness, identifier uniqueness, target validity, reachability.
// Each failure lists every offending identifier of its kind.
func (p *Program) Validate() error {
	if len(p.steps) == 0 {
		return schema.NewError(schema.ErrCodeEmptyProgram, "no steps defined")
	}
	if dups := p.duplicateIDs(); len(dups) > 0 {
		return schema.NewIDsError(schema.ErrCodeDuplicateID, "duplicate ids", dups)
	}
	if invalid := p.invalidTargets("steps"); len(invalid) > 0 {
		return schema.NewIDsError(schema.ErrCodeInvalidTarget, "invalid target ids", refIDs(invalid)).
			WithDetails(map[string]any{"references": invalid})
	}
	if unreachable := p.unreachableIDs(); len(unreachable) > 0 {
		return schema.NewIDsError(schema.ErrCodeUnreachable, "unreachable ids", unreachable)
	}
	return nil
}

// Report runs every check that can run and aggregates all issues instead of
// stopping at the first failing check. Reachability is skipped while invalid
// targets remain, since the walk needs every target to resolve.
func (p *Program) Report() *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(p.steps) == 0 {
		result.AddError("steps", schema.ErrCodeEmptyProgram, "no steps defined")
		return result
	}

	for _, id := range p.duplicateIDs() {
		result.AddError("steps", schema.ErrCodeDuplicateID, fmt.Sprintf("duplicate id %q", id))
	}

	invalid := p.invalidTargets("steps")
	for _, ref := range invalid {
		result.AddError(ref.Path, schema.ErrCodeInvalidTarget,
			fmt.Sprintf("references unknown step %q", ref.ID))
	}
	if len(invalid) > 0 {
		return result
	}

	for _, id := range p.unreachableIDs() {
		result.AddError("steps", schema.ErrCodeUnreachable, fmt.Sprintf("step %q is unreachable", id))
	}

	return result
}

// duplicateIDs returns ids owned more than once anywhere in the tree, in
// order of first occurrence.
func (p *Program) duplicateIDs() []string {
	counts := make(map[string]int)
	var order []string
	for _, id := range p.StepIDs() {
		if counts[id] == 0 {
			order = append(order, id)
		}
		counts[id]++
	}

	var dups []string
	for _, id := range order {
		if counts[id] > 1 {
			dups = append(dups, id)
		}
	}
	return dups
}

// TargetRef is a target reference that does not resolve in its scope.
type TargetRef struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

// invalidTargets checks every scope against its own direct step ids. Each
// unresolved id is reported once per scope that declares it, at the first
// declaring step of that scope.
func (p *Program) invalidTargets(path string) []TargetRef {
	var refs []TargetRef
	p.collectInvalidTargets(path, &refs)
	return refs
}

func (p *Program) collectInvalidTargets(path string, refs *[]TargetRef) {
	local := make(map[string]bool, len(p.steps))
	for _, s := range p.steps {
		if id, ok := s.ownID(); ok {
			local[id] = true
		}
	}

	seen := make(map[string]bool)
	for i, s := range p.steps {
		for _, id := range s.targetIDs() {
			if !local[id] && !seen[id] {
				seen[id] = true
				*refs = append(*refs, TargetRef{Path: fmt.Sprintf("%s[%d]", path, i), ID: id})
			}
		}
		for ci, child := range s.children() {
			child.collectInvalidTargets(childPath(path, i, s.kind(), ci), refs)
		}
	}
}

func childPath(path string, i int, kind StepKind, ci int) string {
	if kind == KindMap {
		return fmt.Sprintf("%s[%d].iterator", path, i)
	}
	return fmt.Sprintf("%s[%d].branches[%d]", path, i, ci)
}

// refIDs returns the distinct ids of refs in order of first occurrence.
func refIDs(refs []TargetRef) []string {
	seen := make(map[string]bool, len(refs))
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if !seen[r.ID] {
			seen[r.ID] = true
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// unreachableIDs walks the tree from the first top-level step and returns
// owned ids the walk never visited.
func (p *Program) unreachableIDs() []string {
	visited := make(map[string]bool)
	p.visit(0, visited)

	var unreachable []string
	for _, id := range p.StepIDs() {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	return unreachable
}

// visit marks the step at index i and everything reachable from it. Steps
// without an id are never marked but are still walked through; an id that
// is already marked stops the walk, which terminates cycles.
func (p *Program) visit(i int, visited map[string]bool) {
	if i >= len(p.steps) {
		return
	}
	s := p.steps[i]

	if id, ok := s.ownID(); ok {
		if visited[id] {
			return
		}
		visited[id] = true
	}

	for _, id := range s.targetIDs() {
		p.visit(p.mustIndexOf(id), visited)
	}
	for _, child := range s.children() {
		child.visit(0, visited)
	}
	if p.hasNext(i) {
		p.visit(i+1, visited)
	}
}
