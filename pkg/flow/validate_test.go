package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestValidate_EmptyProgram(t *testing.T) {
	err := New().Validate()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeEmptyProgram))
	assert.Contains(t, err.Error(), "no steps")
}

func TestValidate_DuplicateIDs(t *testing.T) {
	p := New().
		Pass("State1", nil).
		Map("Map1", MapProps{Iterator: New().Pass("State1", nil)}).
		Parallel("Parallel1", ParallelProps{Branches: []*Program{
			New().Pass("State2", nil),
			New().Pass("State2", nil),
		}})

	err := p.Validate()
	require.Error(t, err)
	fe := flowErr(err)
	require.NotNil(t, fe)
	assert.Equal(t, schema.ErrCodeDuplicateID, fe.Code)
	assert.Equal(t, []string{"State1", "State2"}, fe.IDs)
	assert.Equal(t, "duplicate ids: State1, State2", fe.Message)
}

func TestValidate_DuplicateCallerBuiltNodes(t *testing.T) {
	p := New().Execute(task("A")).Execute(task("A"))

	err := p.Validate()
	require.Error(t, err)
	assert.Equal(t, []string{"A"}, flowErr(err).IDs)
}

// invalidTargetsProgram references a handler from inside a child scope that
// only exists in the parent scope.
func invalidTargetsProgram() *Program {
	return New().
		TryExecute(task("Function1"), Catch{Handler: "UnknownTryPerformHandler"}).
		Decision("Choice1", DecisionProps{
			Choices:   []Choice{{When: "$.var1 == null", Next: "UnknownChoice"}},
			Otherwise: "UnknownOtherwise",
		}).
		Map("Map1", MapProps{
			Iterator: New().TryExecute(task("Function2"), Catch{Handler: "UnknownIteratorTryPerformHandler"}),
			Catches:  []Catch{{Handler: "UnknownMapHandler"}},
		}).
		Pass("UnknownIteratorTryPerformHandler", nil).
		Parallel("Parallel1", ParallelProps{
			Branches: []*Program{
				New().TryExecute(task("Function3"), Catch{Handler: "UnknownBranchTryPerformHandler"}),
			},
			Catches: []Catch{{Handler: "UnknownParallelHandler"}},
		}).
		Pass("UnknownBranchTryPerformHandler", nil)
}

func TestValidate_InvalidTargets(t *testing.T) {
	err := invalidTargetsProgram().Validate()
	require.Error(t, err)

	fe := flowErr(err)
	require.NotNil(t, fe)
	assert.Equal(t, schema.ErrCodeInvalidTarget, fe.Code)
	assert.Equal(t, []string{
		"UnknownTryPerformHandler",
		"UnknownChoice",
		"UnknownOtherwise",
		"UnknownMapHandler",
		"UnknownIteratorTryPerformHandler",
		"UnknownParallelHandler",
		"UnknownBranchTryPerformHandler",
	}, fe.IDs)

	refs, ok := fe.Details["references"].([]TargetRef)
	require.True(t, ok)
	assert.Contains(t, refs, TargetRef{Path: "steps[2].iterator[0]", ID: "UnknownIteratorTryPerformHandler"})
	assert.Contains(t, refs, TargetRef{Path: "steps[4].branches[0][0]", ID: "UnknownBranchTryPerformHandler"})
}

func TestValidate_InvalidTargetReportedOnce(t *testing.T) {
	p := New().
		Decision("Choice1", DecisionProps{
			Choices: []Choice{
				{When: "a", Next: "Missing"},
				{When: "b", Next: "Missing"},
			},
			Otherwise: "Missing",
		})

	err := p.Validate()
	require.Error(t, err)
	assert.Equal(t, []string{"Missing"}, flowErr(err).IDs)
}

func TestValidate_InvalidTargetInSeveralScopes(t *testing.T) {
	p := New().
		Map("Map1", MapProps{
			Iterator: New().Pass("Inner", nil).Next("X"),
		}).
		Pass("A", nil).
		Next("X")

	err := p.Validate()
	require.Error(t, err)
	fe := flowErr(err)
	assert.Equal(t, []string{"X"}, fe.IDs)
	assert.Equal(t, "[INVALID_TARGET_REFERENCE] invalid target ids: X", fe.Error())

	refs, ok := fe.Details["references"].([]TargetRef)
	require.True(t, ok)
	assert.Equal(t, []TargetRef{
		{Path: "steps[0].iterator[1]", ID: "X"},
		{Path: "steps[2]", ID: "X"},
	}, refs)

	result := p.Report()
	var paths []string
	for _, e := range result.Errors {
		if e.Code == schema.ErrCodeInvalidTarget {
			paths = append(paths, e.Path)
		}
	}
	assert.Equal(t, []string{"steps[0].iterator[1]", "steps[2]"}, paths)
}

func TestValidate_UnknownOtherwise(t *testing.T) {
	p := New().
		Decision("Choice1", DecisionProps{
			Choices:   []Choice{{When: "x", Next: "State1"}},
			Otherwise: "Nowhere",
		}).
		Pass("State1", nil)

	err := p.Validate()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTarget))
	assert.Equal(t, []string{"Nowhere"}, flowErr(err).IDs)
}

func TestValidate_InvalidJumpTarget(t *testing.T) {
	err := New().Pass("A", nil).Next("Z").Validate()
	require.Error(t, err)
	assert.Equal(t, []string{"Z"}, flowErr(err).IDs)
}

// unreachableProgram mirrors a realistic program with dead steps after End,
// Succeed and Fail at every nesting level.
func unreachableProgram() *Program {
	return New().
		TryExecute(task("Function1"), Catch{Handler: "TryPerformHandler"}).
		Decision("Choice1", DecisionProps{
			Choices: []Choice{
				{When: "$.var1 == null", Next: "Map1"},
				{When: "$.var2 == null", Next: "Parallel1"},
			},
			Otherwise: "Pass1",
		}).
		Pass("Unreachable1", nil).
		Pass("Pass1", nil).
		End().
		Pass("Unreachable2", nil).
		Map("Map1", MapProps{
			Iterator: New().Fail("MapFail1", nil).Pass("MapUnreachable1", nil).End(),
			Catches:  []Catch{{Handler: "MapHandler"}},
		}).
		Succeed("Succeed1", nil).
		Pass("Unreachable3", nil).
		Parallel("Parallel1", ParallelProps{
			Branches: []*Program{New().Fail("ParallelFail1", nil).Pass("ParallelUnreachable1", nil).End()},
			Catches:  []Catch{{Handler: "ParallelHandler"}},
		}).
		Fail("Fail1", nil).
		Pass("Unreachable4", nil).
		Fail("TryPerformHandler", nil).
		Fail("MapHandler", nil).
		Fail("ParallelHandler", nil)
}

func TestValidate_Unreachable(t *testing.T) {
	err := unreachableProgram().Validate()
	require.Error(t, err)

	fe := flowErr(err)
	require.NotNil(t, fe)
	assert.Equal(t, schema.ErrCodeUnreachable, fe.Code)
	assert.Equal(t, []string{
		"Unreachable1",
		"Unreachable2",
		"MapUnreachable1",
		"Unreachable3",
		"ParallelUnreachable1",
		"Unreachable4",
	}, fe.IDs)
}

func TestValidate_UnreachableAfterSucceed(t *testing.T) {
	err := New().Succeed("Done", nil).Pass("Passthrough", nil).Validate()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeUnreachable))
	assert.Equal(t, []string{"Passthrough"}, flowErr(err).IDs)
}

func TestValidate_CycleTerminates(t *testing.T) {
	p := New().
		Pass("A", nil).
		Pass("B", nil).
		Next("A")

	assert.NoError(t, p.Validate())
}

func TestValidate_FailFastOrder(t *testing.T) {
	// Duplicates win over invalid targets and unreachable steps.
	p := New().
		Pass("A", nil).
		Next("Missing").
		Pass("A", nil)

	err := p.Validate()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeDuplicateID))
}

func TestHasNext(t *testing.T) {
	p := New().
		Pass("A", nil).
		Pass("B", nil).
		End().
		Decision("C", DecisionProps{Otherwise: "A"}).
		Succeed("D", nil).
		Fail("E", nil).
		Next("A").
		Pass("F", nil)

	tests := []struct {
		index int
		want  bool
	}{
		{0, true},
		{1, false},
		{3, false},
		{4, false},
		{5, false},
		{6, false},
		{7, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.hasNext(tt.index), "index %d", tt.index)
	}
}

func TestReport_AggregatesIssues(t *testing.T) {
	p := New().
		Pass("A", nil).
		Pass("A", nil).
		Next("Missing")

	result := p.Report()
	require.False(t, result.Valid())

	codes := make(map[string]int)
	for _, e := range result.Errors {
		codes[e.Code]++
	}
	assert.Equal(t, 1, codes[schema.ErrCodeDuplicateID])
	assert.Equal(t, 1, codes[schema.ErrCodeInvalidTarget])
	assert.Zero(t, codes[schema.ErrCodeUnreachable])

	var paths []string
	for _, e := range result.Errors {
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, "steps[2]")
}

func TestReport_Unreachable(t *testing.T) {
	result := unreachableProgram().Report()
	require.False(t, result.Valid())
	assert.Len(t, result.Errors, 6)
	for _, e := range result.Errors {
		assert.Equal(t, schema.ErrCodeUnreachable, e.Code)
	}
}

func TestReport_Valid(t *testing.T) {
	result := New().Pass("A", nil).Succeed("B", nil).Report()
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
}

func TestStepIDs_Recursive(t *testing.T) {
	p := New().
		Execute(task("A")).
		Map("M", MapProps{Iterator: New().Pass("M1", nil).Pass("M2", nil)}).
		Parallel("P", ParallelProps{Branches: []*Program{
			New().Pass("B1", nil),
			New().Pass("B2", nil),
		}}).
		End().
		Next("A")

	assert.Equal(t, []string{"A", "M", "M1", "M2", "P", "B1", "B2"}, p.StepIDs())
	assert.Equal(t, 5, p.Len())
}
