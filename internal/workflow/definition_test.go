package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: wf
description: t
version: 1.0.0
steps:
  - {id: a, agent: general, description: A}
  - {id: b, agent: general, description: B, depends_on: [a]}
  - {id: c, agent: general, description: C, depends_on: [a], parallel_with: [b]}
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "wf", def.Name)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, []string{"a"}, def.Steps[1].DependsOn)
	assert.Equal(t, []string{"b"}, def.Steps[2].ParallelWith)
}

func TestDefinitionYAMLRoundTrip(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleYAML))
	require.NoError(t, err)

	out, err := def.ToYAML()
	require.NoError(t, err)

	again, err := ParseDefinition(out)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}

func TestDefinitionValidation(t *testing.T) {
	base := func() Definition {
		return Definition{
			Name: "wf", Version: "1", Description: "t",
			Steps: []Step{{ID: "a", Agent: "general", Description: "A"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Definition)
		want   string
	}{
		{"missing name", func(d *Definition) { d.Name = "" }, "name is required"},
		{"missing version", func(d *Definition) { d.Version = "" }, "version is required"},
		{"missing description", func(d *Definition) { d.Description = "" }, "description is required"},
		{"no steps", func(d *Definition) { d.Steps = nil }, "at least one step"},
		{"missing step id", func(d *Definition) { d.Steps[0].ID = "" }, "id is required"},
		{"missing agent", func(d *Definition) { d.Steps[0].Agent = "" }, "agent is required"},
		{"negative timeout", func(d *Definition) { d.Steps[0].TimeoutSec = -1 }, "timeout"},
		{"negative retries", func(d *Definition) { d.Steps[0].MaxRetries = -1 }, "max_retries"},
		{
			"duplicate ids",
			func(d *Definition) {
				d.Steps = append(d.Steps, Step{ID: "a", Agent: "general", Description: "A2"})
			},
			"duplicate step id",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := base()
			tc.mutate(&d)
			err := d.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBuilder(t *testing.T) {
	def, err := NewBuilder("wf", "1.0.0", "built").
		Author("ops").
		Meta("team", "infra").
		Step(Step{ID: "a", Agent: "general", Description: "A"}).
		Step(Step{ID: "b", Agent: "general", Description: "B", DependsOn: []string{"a"}}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "ops", def.Author)
	assert.Equal(t, "infra", def.Metadata["team"])
	require.Len(t, def.Steps, 2)

	_, err = NewBuilder("", "1", "x").Build()
	assert.Error(t, err)
}

func TestStepTask(t *testing.T) {
	s := Step{Description: "describe it"}
	assert.Equal(t, "describe it", s.Task())

	s.Inputs = map[string]interface{}{"task": "explicit task"}
	assert.Equal(t, "explicit task", s.Task())
}

func TestCompileRejectsCycle(t *testing.T) {
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{
			{ID: "step1", Agent: "general", Description: "1", DependsOn: []string{"step2"}},
			{ID: "step2", Agent: "general", Description: "2", DependsOn: []string{"step1"}},
		},
	}
	_, err := Compile(def)
	require.Error(t, err)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Contains(t, err.Error(), "step1")
	assert.Contains(t, err.Error(), "step2")
}

func TestCompileRejectsUnknownDependency(t *testing.T) {
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{{ID: "a", Agent: "general", Description: "A", DependsOn: []string{"ghost"}}},
	}
	_, err := Compile(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step "ghost"`)
}

func TestCompileWarnsOnUnknownParallelWith(t *testing.T) {
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{{ID: "a", Agent: "general", Description: "A", ParallelWith: []string{"ghost"}}},
	}
	_, err := Compile(def)
	assert.NoError(t, err)
}

func TestGraphBatches(t *testing.T) {
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{
			{ID: "a", Agent: "g", Description: "A"},
			{ID: "b", Agent: "g", Description: "B", DependsOn: []string{"a"}},
			{ID: "c", Agent: "g", Description: "C", DependsOn: []string{"a"}},
			{ID: "d", Agent: "g", Description: "D", DependsOn: []string{"b", "c"}},
		},
	}
	g, err := Compile(def)
	require.NoError(t, err)

	batches := g.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a"}, batches[0])
	assert.Equal(t, []string{"b", "c"}, batches[1])
	assert.Equal(t, []string{"d"}, batches[2])
}

func TestEvalCondition(t *testing.T) {
	results := map[string]*StepResult{
		"build": {StepID: "build", Success: true},
		"lint":  {StepID: "lint", Success: false},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"build.success", true},
		{"lint.success", false},
		{"missing.success", false},
		{"NOT lint.success", true},
		{"build.success AND lint.success", false},
		{"build.success OR lint.success", true},
		{"NOT (build.success AND lint.success)", true},
		{"(build.success OR lint.success) AND true", true},
		{"not Build.success", true}, // keywords are case-insensitive, step ids are not
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := EvalCondition(tc.expr, results)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalConditionErrors(t *testing.T) {
	for _, expr := range []string{"", "build.success AND", "(true", "wat", "true true"} {
		t.Run(expr, func(t *testing.T) {
			_, err := EvalCondition(expr, nil)
			assert.Error(t, err)
		})
	}
}
