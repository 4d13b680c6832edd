package validation

import (
	"testing"

	"github.com/forensicdev/warden/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Step builders shared across the package tests.

func stepProcess(pt schema.ProcessType) schema.Step {
	return schema.Step{
		Type:    schema.StepProcess,
		Process: &schema.ProcessStep{ProcessType: pt},
	}
}

func stepDecision(branches ...schema.Branch) schema.Step {
	return schema.Step{
		Type:     schema.StepDecision,
		Decision: &schema.DecisionStep{Branches: branches},
	}
}

func stepDelay(duration string) schema.Step {
	return schema.Step{
		Type:  schema.StepDelay,
		Delay: &schema.DelayStep{Duration: duration},
	}
}

func stepParallel(steps ...schema.Step) schema.Step {
	return schema.Step{
		Type:     schema.StepParallel,
		Parallel: &schema.ParallelStep{Steps: steps},
	}
}

func defWith(steps ...schema.Step) schema.WorkflowDefinition {
	return schema.WorkflowDefinition{Type: "case", Steps: steps}
}

// --- JSONSchemaValidator Tests ---

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.NotNil(t, v.templateSchema)
}

func TestJSONSchema_MinimalValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(defWith(stepProcess(schema.ProcessDiskImaging)))
	assert.NoError(t, err)
}

func TestJSONSchema_FullValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := schema.WorkflowDefinition{
		Type:        "full-case",
		Description: "Every step variant.",
		Steps: []schema.Step{
			{
				Type: schema.StepProcess,
				Process: &schema.ProcessStep{
					ProcessType: schema.ProcessDiskImaging,
					Params:      map[string]any{"target": "${params.target}", "passes": 2},
				},
			},
			stepParallel(
				stepProcess(schema.ProcessNetworkCapture),
				stepProcess(schema.ProcessLogAnalysis),
			),
			stepDelay("500ms"),
			stepDecision(
				schema.Branch{Name: "hot", When: "len(alerts) > 0", Engine: "cel", Action: schema.BranchContinue},
				schema.Branch{Name: "cold", Action: schema.BranchSkip, Skip: 1},
			),
			stepProcess(schema.ProcessMalwareScan),
		},
	}
	err = v.ValidateDefinition(def)
	assert.NoError(t, err)
}

func TestJSONSchema_MissingType(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(schema.WorkflowDefinition{
		Steps: []schema.Step{stepProcess(schema.ProcessDiskImaging)},
	})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestJSONSchema_EmptySteps(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(schema.WorkflowDefinition{Type: "hollow"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestJSONSchema_UnknownStepType(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(defWith(schema.Step{Type: "loop"}))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestJSONSchema_MissingStepConfig(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	// type says process but no process config is present.
	err = v.ValidateDefinition(defWith(schema.Step{Type: schema.StepProcess}))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestJSONSchema_BadBranchAction(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(defWith(
		stepDecision(schema.Branch{Name: "jump", Action: "goto"}),
	))
	require.Error(t, err)

	werr, ok := err.(*schema.WardenError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
	assert.NotEmpty(t, werr.Details["violations"])
}

func TestJSONSchema_NegativeSkip(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(defWith(
		stepDecision(schema.Branch{Action: schema.BranchSkip, Skip: -1}),
	))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestJSONSchema_ViolationsAggregated(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	// Two independent violations: missing workflow type and a bad step type.
	err = v.ValidateDefinition(schema.WorkflowDefinition{
		Steps: []schema.Step{{Type: "loop"}},
	})
	require.Error(t, err)

	werr, ok := err.(*schema.WardenError)
	require.True(t, ok)
	violations, ok := werr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
}
