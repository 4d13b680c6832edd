package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/forensicdev/warden/pkg/schema"
)

// maxParallelDepth bounds parallel nesting. Deeper trees fan out goroutines
// with no forensic justification.
const maxParallelDepth = 3

// validateSemantic performs the checks the template schema cannot express:
// known process types, skip bounds, delay durations, parallel nesting.
func validateSemantic(def schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	for i := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		validateStep(def.Steps[i], path, stepContext{index: i, total: len(def.Steps)}, result)
	}
	return result
}

// stepContext carries the position information skip-bound checks need.
type stepContext struct {
	index         int // top-level step index
	total         int // top-level step count
	parallelDepth int // how many parallel steps enclose this one
}

func validateStep(step schema.Step, path string, sc stepContext, result *schema.ValidationResult) {
	checkConfigMatches(step, path, result)

	switch step.Type {
	case schema.StepProcess:
		if step.Process != nil {
			validateProcess(*step.Process, path+".process", result)
		}
	case schema.StepDecision:
		if step.Decision != nil {
			validateDecision(*step.Decision, path+".decision", sc, result)
		}
	case schema.StepDelay:
		if step.Delay != nil {
			validateDelay(*step.Delay, path+".delay", result)
		}
	case schema.StepParallel:
		if step.Parallel != nil {
			validateParallel(*step.Parallel, path+".parallel", sc, result)
		}
	}
}

// checkConfigMatches flags configs populated for a different step type.
// The StepType values match the config field names exactly.
func checkConfigMatches(step schema.Step, path string, result *schema.ValidationResult) {
	for _, f := range configFields(step) {
		if f != string(step.Type) {
			result.AddErrorf(path, schema.ErrCodeValidation,
				"%s config does not belong on a %s step", f, step.Type)
		}
	}
}

func configFields(step schema.Step) []string {
	var fields []string
	if step.Process != nil {
		fields = append(fields, "process")
	}
	if step.Decision != nil {
		fields = append(fields, "decision")
	}
	if step.Delay != nil {
		fields = append(fields, "delay")
	}
	if step.Parallel != nil {
		fields = append(fields, "parallel")
	}
	return fields
}

func validateProcess(p schema.ProcessStep, path string, result *schema.ValidationResult) {
	if !schema.ValidProcessType(p.ProcessType) {
		result.AddErrorf(path+".process_type", schema.ErrCodeValidation,
			"unknown process type %q (known: %s)", p.ProcessType, knownTypesList())
	}
}

func knownTypesList() string {
	names := make([]string, len(schema.KnownProcessTypes))
	for i, t := range schema.KnownProcessTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func validateDecision(d schema.DecisionStep, path string, sc stepContext, result *schema.ValidationResult) {
	if len(d.Branches) == 0 {
		result.AddError(path+".branches", schema.ErrCodeValidation, "decision has no branches")
		return
	}

	for j, b := range d.Branches {
		bpath := fmt.Sprintf("%s.branches[%d]", path, j)

		switch b.Action {
		case schema.BranchContinue:
			if b.Skip > 0 {
				result.AddWarning(bpath+".skip", schema.ErrCodeValidation,
					"skip count is ignored for action=continue")
			}
		case schema.BranchSkip:
			if sc.parallelDepth > 0 {
				result.AddError(bpath+".action", schema.ErrCodeValidation,
					"skip action is not allowed inside parallel steps")
				continue
			}
			skip := b.Skip
			if skip == 0 {
				skip = 1
			}
			if sc.index+skip > sc.total {
				result.AddErrorf(bpath+".skip", schema.ErrCodeValidation,
					"skip count %d overruns the step list (step %d of %d)", skip, sc.index+1, sc.total)
			}
		default:
			result.AddErrorf(bpath+".action", schema.ErrCodeValidation,
				"branch action must be %q or %q", schema.BranchContinue, schema.BranchSkip)
		}

		if b.When == "" && j < len(d.Branches)-1 {
			result.AddWarning(bpath, schema.ErrCodeValidation,
				"branches after an unconditional branch are unreachable")
		}
	}

	// A decision with no default falls through when nothing matches.
	if last := d.Branches[len(d.Branches)-1]; last.When != "" {
		result.AddWarning(path+".branches", schema.ErrCodeValidation,
			"no default branch; the step falls through when no predicate matches")
	}
}

func validateDelay(d schema.DelayStep, path string, result *schema.ValidationResult) {
	dur, err := time.ParseDuration(d.Duration)
	if err != nil {
		result.AddErrorf(path+".duration", schema.ErrCodeValidation,
			"invalid duration %q", d.Duration)
		return
	}
	if dur <= 0 {
		result.AddErrorf(path+".duration", schema.ErrCodeValidation,
			"duration must be positive, got %s", d.Duration)
	}
}

func validateParallel(p schema.ParallelStep, path string, sc stepContext, result *schema.ValidationResult) {
	if len(p.Steps) == 0 {
		result.AddError(path+".steps", schema.ErrCodeValidation, "parallel step has no sub-steps")
		return
	}

	depth := sc.parallelDepth + 1
	if depth > maxParallelDepth {
		result.AddErrorf(path, schema.ErrCodeValidation,
			"parallel nesting exceeds %d levels", maxParallelDepth)
		return
	}

	for i := range p.Steps {
		sub := fmt.Sprintf("%s.steps[%d]", path, i)
		validateStep(p.Steps[i], sub, stepContext{index: sc.index, total: sc.total, parallelDepth: depth}, result)
	}
}
