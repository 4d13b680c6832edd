package schema

// WorkflowState represents the lifecycle state of a workflow instance.
type WorkflowState string

const (
	WorkflowCreated   WorkflowState = "created"
	WorkflowRunning   WorkflowState = "running"
	WorkflowStopping  WorkflowState = "stopping"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowStopped   WorkflowState = "stopped"
)

// Terminal reports whether no further transitions are possible from s.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowStopped
}

// ValidWorkflowTransitions maps each workflow state to the states it may
// move to. Terminal states map to an empty slice.
var ValidWorkflowTransitions = map[WorkflowState][]WorkflowState{
	WorkflowCreated:   {WorkflowRunning, WorkflowStopping},
	WorkflowRunning:   {WorkflowStopping, WorkflowCompleted, WorkflowFailed},
	WorkflowStopping:  {WorkflowStopped},
	WorkflowCompleted: {},
	WorkflowFailed:    {},
	WorkflowStopped:   {},
}

// ValidWorkflowTransition reports whether a workflow may move from one
// state to another.
func ValidWorkflowTransition(from, to WorkflowState) bool {
	for _, s := range ValidWorkflowTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StepType tags the variant of a workflow step.
type StepType string

const (
	StepProcess  StepType = "process"
	StepDecision StepType = "decision"
	StepDelay    StepType = "delay"
	StepParallel StepType = "parallel"
)

// Step is a tagged variant. Exactly one of the config fields matching Type
// is populated; the engine dispatches through a handler table keyed by Type.
type Step struct {
	Type     StepType      `json:"type" yaml:"type"`
	Process  *ProcessStep  `json:"process,omitempty" yaml:"process,omitempty"`
	Decision *DecisionStep `json:"decision,omitempty" yaml:"decision,omitempty"`
	Delay    *DelayStep    `json:"delay,omitempty" yaml:"delay,omitempty"`
	Parallel *ParallelStep `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// ProcessStep runs one worker instance to completion under the supervisor.
type ProcessStep struct {
	ProcessType ProcessType    `json:"process_type" yaml:"process_type"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// BranchAction determines how a selected branch advances the step index.
type BranchAction string

const (
	BranchContinue BranchAction = "continue"
	BranchSkip     BranchAction = "skip"
)

// Branch is one arm of a decision step. Branches are evaluated in order and
// the first arm whose predicate holds is selected. An arm without a predicate
// always holds and serves as the default.
type Branch struct {
	Name   string       `json:"name,omitempty" yaml:"name,omitempty"`
	When   string       `json:"when,omitempty" yaml:"when,omitempty"`
	Engine string       `json:"engine,omitempty" yaml:"engine,omitempty"` // cel | expr | jq (default: expr)
	Action BranchAction `json:"action" yaml:"action"`
	Skip   int          `json:"skip,omitempty" yaml:"skip,omitempty"` // steps to skip for action=skip (default: 1)
}

// DecisionStep selects among branches based on predicates over the current
// workflow state, process results, and rule alerts.
type DecisionStep struct {
	Branches []Branch `json:"branches" yaml:"branches"`
}

// DelayStep suspends the workflow for a fixed duration ("500ms", "2s", ...)
// without consuming a worker slot.
type DelayStep struct {
	Duration string `json:"duration" yaml:"duration"`
}

// ParallelStep runs all sub-steps concurrently and joins on every one of them.
type ParallelStep struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// WorkflowDefinition is a resolved workflow template: the ordered step list a
// workflow instance executes, produced by the template registry as a pure
// function of workflow type and parameters.
type WorkflowDefinition struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}
