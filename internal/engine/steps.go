package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/forensicdev/warden/internal/expressions"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/pkg/schema"
)

// stepHandler executes one step and reports how far the index advances.
type stepHandler func(*Engine, context.Context, *workflowRecord, int, schema.Step) (int, error)

// stepHandlers is the dispatch table keyed by the step variant tag.
// Populated in init because runParallelStep reaches back into the table
// through runSubStep, which a composite-literal initializer would make
// an initialization cycle.
var stepHandlers map[schema.StepType]stepHandler

func init() {
	stepHandlers = map[schema.StepType]stepHandler{
		schema.StepProcess:  (*Engine).runProcessStep,
		schema.StepDecision: (*Engine).runDecisionStep,
		schema.StepDelay:    (*Engine).runDelayStep,
		schema.StepParallel: (*Engine).runParallelStep,
	}
}

// runLoop advances one workflow through its step list until the list
// ends, a step fails, or a stop request takes the state away from
// running. Exactly one loop runs per started workflow.
func (e *Engine) runLoop(rec *workflowRecord) {
	defer e.wg.Done()

	// Emissions from the loop must survive service shutdown; the
	// suspension points watch e.baseCtx directly.
	ctx := logging.WithWorkflowID(context.WithoutCancel(e.baseCtx), rec.id)

	for {
		rec.mu.Lock()
		state := rec.state
		index := rec.stepIndex
		rec.mu.Unlock()

		if state != schema.WorkflowRunning {
			return
		}
		if index >= len(rec.steps) {
			rec.appendLog("all steps completed")
			e.finalize(ctx, rec, schema.WorkflowCompleted, "")
			return
		}

		advance, err := e.runStep(ctx, rec, index, rec.steps[index])
		if err != nil {
			if e.baseCtx.Err() != nil || rec.currentState() != schema.WorkflowRunning {
				// Shutdown or a concurrent stop owns the outcome.
				return
			}
			e.failWorkflow(ctx, rec, index, err)
			return
		}

		rec.mu.Lock()
		rec.stepIndex += advance
		rec.updatedAt = nowUTC()
		rec.mu.Unlock()
	}
}

// runStep dispatches one step through the handler table and audits its
// outcome.
func (e *Engine) runStep(ctx context.Context, rec *workflowRecord, index int, step schema.Step) (int, error) {
	handler, ok := stepHandlers[step.Type]
	if !ok {
		return 0, schema.NewErrorf(schema.ErrCodeUnknownStepType,
			"unknown step type %q", step.Type).WithWorkflow(rec.id)
	}

	rec.appendLog(fmt.Sprintf("step %d (%s) started", index, step.Type))
	e.emit(ctx, rec.id, schema.EventStepStarted, map[string]any{
		"index":     index,
		"step_type": string(step.Type),
	})

	advance, err := handler(e, ctx, rec, index, step)
	if err != nil {
		e.emit(ctx, rec.id, schema.EventStepFailed, map[string]any{
			"index":     index,
			"step_type": string(step.Type),
			"error":     errText(err),
		})
		return 0, err
	}

	rec.appendLog(fmt.Sprintf("step %d (%s) completed", index, step.Type))
	e.emit(ctx, rec.id, schema.EventStepCompleted, map[string]any{
		"index":     index,
		"step_type": string(step.Type),
		"advance":   advance,
	})
	return advance, nil
}

// failWorkflow seals the record as failed and, when configured, stops
// the workflow's other live workers.
func (e *Engine) failWorkflow(ctx context.Context, rec *workflowRecord, index int, cause error) {
	msg := fmt.Sprintf("step %d failed: %s", index, errText(cause))
	rec.appendLog(msg)
	if !e.finalize(ctx, rec, schema.WorkflowFailed, msg) {
		return
	}
	if !e.cfg.StopSiblingsOnFailure {
		return
	}

	rec.mu.Lock()
	ids := slices.Clone(rec.processIDs)
	rec.mu.Unlock()
	for _, procID := range ids {
		e.stopProcess(ctx, rec.id, procID)
	}
}

// runProcessStep starts one worker under the supervisor and blocks
// until its record seals. Completion arrives on the record's done
// channel; the poll tick exists only to notice a concurrent stop.
func (e *Engine) runProcessStep(ctx context.Context, rec *workflowRecord, index int, step schema.Step) (int, error) {
	cfg := step.Process
	if cfg == nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"process step %d has no config", index).WithWorkflow(rec.id)
	}

	params, err := expressions.InterpolateParams(cfg.Params, rec.params)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStepFailed,
			"parameter interpolation failed: %s", errText(err)).
			WithWorkflow(rec.id).WithCause(err)
	}

	procID, err := e.sup.Start(ctx, cfg.ProcessType, params)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStepFailed,
			"could not start %s worker: %s", cfg.ProcessType, errText(err)).
			WithWorkflow(rec.id).WithCause(err)
	}
	rec.appendLog(fmt.Sprintf("step %d started process %s (%s)", index, procID, cfg.ProcessType))

	rec.mu.Lock()
	rec.processIDs = append(rec.processIDs, procID)
	rec.updatedAt = nowUTC()
	interrupted := rec.state != schema.WorkflowRunning
	rec.mu.Unlock()
	if interrupted {
		// The stop sweep may have snapshotted the process list before
		// this append landed, so the orphan is stopped here.
		e.stopProcess(ctx, rec.id, procID)
		return 0, interruptionError(rec.id, index)
	}

	if err := e.waitForProcess(rec, index, procID); err != nil {
		return 0, err
	}

	st, ok := e.sup.Status(procID)
	if !ok {
		return 0, schema.NewErrorf(schema.ErrCodeNotFound,
			"process %s gone before its outcome was read", procID).
			WithWorkflow(rec.id)
	}
	if st.State != schema.ProcessCompleted {
		return 0, schema.NewErrorf(schema.ErrCodeWorkerFailed, "%s", st.Error).
			WithWorkflow(rec.id).WithProcess(procID)
	}
	return 1, nil
}

// waitForProcess blocks until the process record seals, the workflow
// leaves running, or the engine shuts down.
func (e *Engine) waitForProcess(rec *workflowRecord, index int, procID string) error {
	done, ok := e.sup.Watch(procID)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no such process %s", procID).
			WithWorkflow(rec.id)
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			if rec.currentState() != schema.WorkflowRunning {
				return interruptionError(rec.id, index)
			}
			return nil
		case <-ticker.C:
			if rec.currentState() != schema.WorkflowRunning {
				return interruptionError(rec.id, index)
			}
		case <-e.baseCtx.Done():
			return schema.NewError(schema.ErrCodeExecution, "engine shut down during process wait").
				WithWorkflow(rec.id).WithCause(e.baseCtx.Err())
		}
	}
}

// runDecisionStep evaluates the branches in order against the decision
// scope and advances by the first truthy branch's action. A branch
// without a predicate always holds; no truthy branch falls through to
// the next step.
func (e *Engine) runDecisionStep(ctx context.Context, rec *workflowRecord, index int, step schema.Step) (int, error) {
	cfg := step.Decision
	if cfg == nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"decision step %d has no config", index).WithWorkflow(rec.id)
	}

	scope, alerts, err := e.decisionScope(rec)
	if err != nil {
		return 0, err
	}
	for _, a := range alerts {
		e.emitAlert(ctx, rec.id, a)
	}

	for bi, branch := range cfg.Branches {
		taken := branch.When == ""
		if !taken {
			eng, err := e.engines.ForName(branch.Engine)
			if err != nil {
				return 0, schema.NewErrorf(schema.ErrCodeStepFailed,
					"branch %d predicate failed: %s", bi, errText(err)).
					WithWorkflow(rec.id).WithCause(err)
			}
			out, err := eng.Evaluate(ctx, branch.When, scope)
			if err != nil {
				return 0, schema.NewErrorf(schema.ErrCodeStepFailed,
					"branch %d predicate failed: %s", bi, errText(err)).
					WithWorkflow(rec.id).WithCause(err)
			}
			taken = expressions.Truthy(out)
		}
		if !taken {
			continue
		}

		advance := 1
		if branch.Action == schema.BranchSkip {
			advance = branch.Skip
			if advance <= 0 {
				advance = 1
			}
		}
		name := branch.Name
		if name == "" {
			name = fmt.Sprintf("branch-%d", bi)
		}
		rec.appendLog(fmt.Sprintf("step %d took branch %s (advance %d)", index, name, advance))
		e.emit(ctx, rec.id, schema.EventBranchTaken, map[string]any{
			"index":   index,
			"branch":  name,
			"action":  string(branch.Action),
			"advance": advance,
		})
		return advance, nil
	}

	rec.appendLog(fmt.Sprintf("step %d took no branch", index))
	return 1, nil
}

// decisionScope assembles the namespaces a branch predicate sees and
// the alerts the rules raised over the harvested findings. Purged
// process references drop out of scope silently.
func (e *Engine) decisionScope(rec *workflowRecord) (map[string]any, []rules.Alert, error) {
	rec.mu.Lock()
	wf := map[string]any{
		"id":     rec.id,
		"type":   rec.wtype,
		"state":  string(rec.state),
		"index":  rec.stepIndex,
		"params": maps.Clone(rec.params),
	}
	ids := slices.Clone(rec.processIDs)
	rec.mu.Unlock()

	processes := make([]any, 0, len(ids))
	results := make(map[string]any)
	var payloads []any
	for _, procID := range ids {
		st, ok := e.sup.Status(procID)
		if !ok {
			continue
		}
		processes = append(processes, map[string]any{
			"id":       st.ID,
			"type":     string(st.Type),
			"state":    string(st.State),
			"progress": st.Progress,
			"result":   st.Result,
		})
		if st.Result != nil {
			results[string(st.Type)] = st.Result
			payloads = append(payloads, st.Result)
		}
	}

	findings := rules.HarvestAll(payloads)
	alerts := e.evaluator.Evaluate(findings.Profiles, findings.Artifacts)
	alertVals := make([]any, 0, len(alerts))
	for _, a := range alerts {
		alertVals = append(alertVals, a)
	}

	scope := &expressions.DecisionScope{
		Workflow:  wf,
		Processes: processes,
		Results:   results,
		Alerts:    alertVals,
		Params:    rec.params,
	}
	data, err := scope.Data()
	if err != nil {
		return nil, nil, err
	}
	return data, alerts, nil
}

// runDelayStep suspends the workflow for the configured duration
// without consuming a worker slot.
func (e *Engine) runDelayStep(_ context.Context, rec *workflowRecord, index int, step schema.Step) (int, error) {
	cfg := step.Delay
	if cfg == nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"delay step %d has no config", index).WithWorkflow(rec.id)
	}
	dur, err := time.ParseDuration(cfg.Duration)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid delay duration %q", cfg.Duration).
			WithWorkflow(rec.id).WithCause(err)
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return 1, nil
	case <-rec.stopNotice:
		return 0, interruptionError(rec.id, index)
	case <-e.baseCtx.Done():
		return 0, schema.NewError(schema.ErrCodeExecution, "engine shut down during delay").
			WithWorkflow(rec.id).WithCause(e.baseCtx.Err())
	}
}

// runParallelStep runs every sub-step concurrently and joins on all of
// them. The lowest-indexed failure becomes the step error.
func (e *Engine) runParallelStep(ctx context.Context, rec *workflowRecord, index int, step schema.Step) (int, error) {
	cfg := step.Parallel
	if cfg == nil || len(cfg.Steps) == 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"parallel step %d has no sub-steps", index).WithWorkflow(rec.id)
	}

	errs := make([]error, len(cfg.Steps))
	var wg sync.WaitGroup
	for si, sub := range cfg.Steps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[si] = e.runSubStep(ctx, rec, index, sub)
		}()
	}
	wg.Wait()

	for si, err := range errs {
		if err != nil {
			return 0, schema.NewErrorf(schema.ErrCodeStepFailed,
				"parallel branch %d failed: %s", si, errText(err)).
				WithWorkflow(rec.id).WithCause(err)
		}
	}
	return 1, nil
}

// runSubStep dispatches one parallel branch through the handler table.
// Sub-steps report no step events of their own and their advance is
// ignored; the enclosing parallel step advances by 1.
func (e *Engine) runSubStep(ctx context.Context, rec *workflowRecord, index int, sub schema.Step) error {
	handler, ok := stepHandlers[sub.Type]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeUnknownStepType,
			"unknown step type %q", sub.Type).WithWorkflow(rec.id)
	}
	_, err := handler(e, ctx, rec, index, sub)
	return err
}

// interruptionError marks a wait ended by a workflow stop rather than a
// step outcome. The loop discards it once it observes the stop.
func interruptionError(id string, index int) error {
	return schema.NewErrorf(schema.ErrCodeStepFailed,
		"step %d interrupted by workflow stop", index).WithWorkflow(id)
}

// errText extracts the bare message from structured errors so wrapped
// texts do not repeat code and identifier prefixes.
func errText(err error) string {
	var werr *schema.WardenError
	if errors.As(err, &werr) {
		return werr.Message
	}
	return err.Error()
}
