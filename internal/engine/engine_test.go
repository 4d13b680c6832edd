package engine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/expressions"
	"github.com/forensicdev/warden/internal/launcher"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/metrics"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/internal/supervisor"
	"github.com/forensicdev/warden/internal/templates"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	eng      *Engine
	sup      *supervisor.Supervisor
	recorder *audit.MemoryRecorder
	hub      *streaming.MemoryHub
	metrics  *metrics.Metrics
	registry *templates.Registry
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	env := &testEnv{
		recorder: audit.NewMemoryRecorder(),
		hub:      streaming.NewMemoryHub(),
		metrics:  metrics.New(),
		registry: templates.NewRegistry(nil),
	}
	sim := launcher.NewSimLauncher(launcher.SimConfig{
		DefaultInterval: 2 * time.Millisecond,
		DefaultSteps:    4,
	})
	env.sup = supervisor.New(ctx, supervisor.Config{MaxConcurrent: 8},
		sim, env.recorder, env.hub, env.metrics, logging.NewNop())

	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	env.eng = New(ctx, cfg, env.sup, env.registry, engines,
		rules.NewEvaluator(rules.Config{}), env.recorder, env.hub, env.metrics, logging.NewNop())
	return env
}

func (env *testEnv) register(t *testing.T, wtype string, steps ...schema.Step) {
	t.Helper()
	require.NoError(t, env.registry.Register(schema.WorkflowDefinition{Type: wtype, Steps: steps}))
}

func (env *testEnv) createStarted(t *testing.T, wtype string, params map[string]any) string {
	t.Helper()
	id, err := env.eng.Create(context.Background(), wtype, params)
	require.NoError(t, err)
	require.NoError(t, env.eng.Start(context.Background(), id))
	return id
}

func waitTerminal(t *testing.T, eng *Engine, id string) *WorkflowStatus {
	t.Helper()
	ch, ok := eng.Watch(id)
	require.True(t, ok)
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("workflow %s did not reach a terminal state", id)
	}
	st, ok := eng.Status(id)
	require.True(t, ok)
	return st
}

func wfEventTypes(t *testing.T, rec *audit.MemoryRecorder, id string) []string {
	t.Helper()
	events, err := rec.Events(context.Background(), schema.EntityWorkflow, id, 0)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func fastParams() map[string]any {
	return map[string]any{"sim_interval_ms": 2, "sim_steps": 4}
}

func slowParams() map[string]any {
	return map[string]any{"sim_interval_ms": 50, "sim_steps": 400}
}

func failingParams(code int, msg string) map[string]any {
	return map[string]any{"sim_interval_ms": 2, "sim_steps": 4, "exit_code": code, "error": msg}
}

func procStep(pt schema.ProcessType, params map[string]any) schema.Step {
	return schema.Step{Type: schema.StepProcess, Process: &schema.ProcessStep{ProcessType: pt, Params: params}}
}

func decisionStep(branches ...schema.Branch) schema.Step {
	return schema.Step{Type: schema.StepDecision, Decision: &schema.DecisionStep{Branches: branches}}
}

func delayStep(duration string) schema.Step {
	return schema.Step{Type: schema.StepDelay, Delay: &schema.DelayStep{Duration: duration}}
}

func parallelStep(steps ...schema.Step) schema.Step {
	return schema.Step{Type: schema.StepParallel, Parallel: &schema.ParallelStep{Steps: steps}}
}

// --- Create Tests ---

func TestCreate_ResolvesTemplate(t *testing.T) {
	env := newTestEnv(t, Config{})

	id, err := env.eng.Create(context.Background(), templates.TypeEvidenceCollection, map[string]any{"case": "cs-401"})
	require.NoError(t, err)
	assert.Contains(t, id, "wf-")

	st, ok := env.eng.Status(id)
	require.True(t, ok)
	assert.Equal(t, schema.WorkflowCreated, st.State)
	assert.Equal(t, 2, st.StepCount)
	assert.Equal(t, 0, st.StepIndex)
	assert.Equal(t, 0, st.Progress)
	assert.Empty(t, st.ProcessIDs)
	assert.Nil(t, st.StartedAt)
	assert.Equal(t, "cs-401", st.Params["case"])

	assert.Equal(t, []string{schema.EventWorkflowCreated}, wfEventTypes(t, env.recorder, id))
}

func TestCreate_UnknownType(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.eng.Create(context.Background(), "sorcery", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownWorkflowType))
	assert.Empty(t, env.eng.List())
}

func TestCreate_ValidationHook(t *testing.T) {
	env := newTestEnv(t, Config{
		Validate: func(def schema.WorkflowDefinition) error {
			return schema.NewErrorf(schema.ErrCodeValidation, "definition %s rejected", def.Type)
		},
	})

	_, err := env.eng.Create(context.Background(), templates.TypeEvidenceCollection, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Empty(t, env.eng.List(), "rejected definitions must not leave a record behind")
}

// --- Run Tests ---

func TestRun_ThreeProcessSteps(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "chain",
		procStep(schema.ProcessDiskImaging, fastParams()),
		procStep(schema.ProcessMemoryDump, fastParams()),
		procStep(schema.ProcessLogAnalysis, fastParams()),
	)

	id := env.createStarted(t, "chain", nil)
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowCompleted, st.State)
	assert.Equal(t, 3, st.StepIndex)
	assert.Equal(t, 100, st.Progress)
	require.NotNil(t, st.EndedAt)
	require.Len(t, st.ProcessIDs, 3)
	for _, procID := range st.ProcessIDs {
		proc, ok := env.sup.Status(procID)
		require.True(t, ok)
		assert.Equal(t, schema.ProcessCompleted, proc.State)
	}

	assert.Equal(t, []string{
		schema.EventWorkflowCreated,
		schema.EventWorkflowStarted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventWorkflowCompleted,
	}, wfEventTypes(t, env.recorder, id))
}

func TestRun_WorkerFailureFailsWorkflow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "evidence",
		procStep(schema.ProcessDiskImaging, fastParams()),
		procStep(schema.ProcessMalwareScan, failingParams(2, "scan engine crashed")),
	)

	id := env.createStarted(t, "evidence", nil)
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowFailed, st.State)
	assert.Equal(t, 1, st.StepIndex)
	require.Len(t, st.ProcessIDs, 2)
	assert.Contains(t, st.Error, "step 1 failed")
	assert.Contains(t, st.Error, "exited with code 2")

	first, ok := env.sup.Status(st.ProcessIDs[0])
	require.True(t, ok)
	assert.Equal(t, schema.ProcessCompleted, first.State)
	second, ok := env.sup.Status(st.ProcessIDs[1])
	require.True(t, ok)
	assert.Equal(t, schema.ProcessError, second.State)

	assert.Equal(t, []string{
		schema.EventWorkflowCreated,
		schema.EventWorkflowStarted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventStepStarted, schema.EventStepFailed,
		schema.EventWorkflowFailed,
	}, wfEventTypes(t, env.recorder, id))
}

func TestRun_InterpolatesWorkflowParams(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "tuned",
		procStep(schema.ProcessNetworkCapture, map[string]any{
			"sim_interval_ms": "${params.interval}",
			"sim_steps":       4,
			"interface":       "capture for ${params.case}",
		}),
	)

	id := env.createStarted(t, "tuned", map[string]any{"interval": 2, "case": "cs-77"})
	st := waitTerminal(t, env.eng, id)

	require.Equal(t, schema.WorkflowCompleted, st.State)
	require.Len(t, st.ProcessIDs, 1)
	proc, ok := env.sup.Status(st.ProcessIDs[0])
	require.True(t, ok)
	assert.EqualValues(t, 2, proc.Params["sim_interval_ms"])
	assert.Equal(t, "capture for cs-77", proc.Params["interface"])
}

func TestRun_UnknownStepType(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "odd", schema.Step{Type: "teleport"})

	id := env.createStarted(t, "odd", nil)
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowFailed, st.State)
	assert.Equal(t, 0, st.StepIndex)
	assert.Contains(t, st.Error, `unknown step type "teleport"`)
}

func TestRun_StartRequiresCreatedState(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "single", delayStep("1ms"))

	err := env.eng.Start(context.Background(), "wf-missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	id := env.createStarted(t, "single", nil)
	err = env.eng.Start(context.Background(), id)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
	waitTerminal(t, env.eng, id)
}

// --- Decision Tests ---

func TestDecision_BranchSelection(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "branched",
		decisionStep(
			schema.Branch{Name: "deep-dive", When: "params.deep", Action: schema.BranchContinue},
			schema.Branch{Name: "fast-path", Action: schema.BranchSkip, Skip: 2},
		),
		procStep(schema.ProcessDiskImaging, fastParams()),
		procStep(schema.ProcessMalwareScan, fastParams()),
	)

	deep := env.createStarted(t, "branched", map[string]any{"deep": true})
	st := waitTerminal(t, env.eng, deep)
	assert.Equal(t, schema.WorkflowCompleted, st.State)
	assert.Equal(t, 3, st.StepIndex)
	assert.Len(t, st.ProcessIDs, 2, "continue runs both following steps")

	shallow := env.createStarted(t, "branched", map[string]any{"deep": false})
	st = waitTerminal(t, env.eng, shallow)
	assert.Equal(t, schema.WorkflowCompleted, st.State)
	assert.Equal(t, 3, st.StepIndex)
	assert.Len(t, st.ProcessIDs, 1, "skip 2 jumps over the first process step")
	assert.Contains(t, wfEventTypes(t, env.recorder, shallow), schema.EventBranchTaken)
}

func TestDecision_EngineSelection(t *testing.T) {
	cases := []struct {
		engine string
		when   string
	}{
		{"expr", "params.go_deep"},
		{"cel", "params.go_deep == true"},
		{"jq", ".params.go_deep"},
	}
	for _, tc := range cases {
		t.Run(tc.engine, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			env.register(t, "pick",
				decisionStep(
					schema.Branch{Name: "skip-ahead", When: tc.when, Engine: tc.engine, Action: schema.BranchSkip, Skip: 2},
					schema.Branch{Name: "stay", Action: schema.BranchContinue},
				),
				procStep(schema.ProcessDiskImaging, fastParams()),
				procStep(schema.ProcessMemoryDump, fastParams()),
			)

			id := env.createStarted(t, "pick", map[string]any{"go_deep": true})
			st := waitTerminal(t, env.eng, id)
			require.Equal(t, schema.WorkflowCompleted, st.State)
			assert.Len(t, st.ProcessIDs, 1, "a truthy %s predicate must take the skip branch", tc.engine)
		})
	}
}

func TestDecision_UnknownEngine(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "exotic",
		decisionStep(schema.Branch{When: "1 == 1", Engine: "lua", Action: schema.BranchContinue}),
	)

	id := env.createStarted(t, "exotic", nil)
	st := waitTerminal(t, env.eng, id)
	assert.Equal(t, schema.WorkflowFailed, st.State)
	assert.Contains(t, st.Error, "unknown expression engine")
}

func TestDecision_NoBranchTaken(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "fallthrough",
		decisionStep(schema.Branch{Name: "never", When: "params.armed", Action: schema.BranchSkip, Skip: 2}),
		procStep(schema.ProcessLogAnalysis, fastParams()),
	)

	id := env.createStarted(t, "fallthrough", map[string]any{"armed": false})
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowCompleted, st.State)
	assert.Equal(t, 2, st.StepIndex)
	assert.Len(t, st.ProcessIDs, 1, "no truthy branch falls through to the next step")
	assert.Contains(t, st.Logs, "step 0 took no branch")
}

func TestDecision_AlertsInScope(t *testing.T) {
	env := newTestEnv(t, Config{})
	flagged := map[string]any{
		"profiles": []map[string]any{{
			"user_id":       "u-night",
			"session_count": 7,
			"avg_actions":   40.0,
			"off_hour_pct":  0.8,
			"anomaly_score": -1,
		}},
	}
	env.register(t, "alerting",
		procStep(schema.ProcessLogAnalysis, map[string]any{
			"sim_interval_ms": 2, "sim_steps": 4, "result": flagged,
		}),
		decisionStep(
			schema.Branch{Name: "escalate", When: "len(alerts) > 0", Action: schema.BranchSkip, Skip: 2},
			schema.Branch{Name: "benign", Action: schema.BranchContinue},
		),
		procStep(schema.ProcessDiskImaging, fastParams()),
		procStep(schema.ProcessMalwareScan, fastParams()),
	)

	id := env.createStarted(t, "alerting", nil)
	st := waitTerminal(t, env.eng, id)

	require.Equal(t, schema.WorkflowCompleted, st.State)
	assert.Len(t, st.ProcessIDs, 2, "escalation skips the imaging step")

	alertEvents, err := env.recorder.Events(context.Background(), schema.EntityRule, rules.RuleAnomaly, 0)
	require.NoError(t, err)
	require.Len(t, alertEvents, 1)
	assert.Equal(t, schema.EventAlertRaised, alertEvents[0].Type)

	var rendered bytes.Buffer
	require.NoError(t, env.metrics.Render(&rendered))
	assert.Contains(t, rendered.String(), `warden_alerts_total{rule="anomaly"} 1`)
}

// --- Delay Tests ---

func TestDelay_AdvancesWithoutWorker(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "paced", delayStep("10ms"), delayStep("5ms"))

	id := env.createStarted(t, "paced", nil)
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowCompleted, st.State)
	assert.Equal(t, 2, st.StepIndex)
	assert.Empty(t, st.ProcessIDs)
	assert.Equal(t, []string{
		schema.EventWorkflowCreated,
		schema.EventWorkflowStarted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventWorkflowCompleted,
	}, wfEventTypes(t, env.recorder, id))
}

func TestDelay_InvalidDuration(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "vague", delayStep("soon"))

	id := env.createStarted(t, "vague", nil)
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowFailed, st.State)
	assert.Contains(t, st.Error, `invalid delay duration "soon"`)
}

// --- Parallel Tests ---

func TestParallel_JoinsAllBranches(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "fanout",
		parallelStep(
			procStep(schema.ProcessDiskImaging, fastParams()),
			procStep(schema.ProcessMemoryDump, fastParams()),
			procStep(schema.ProcessNetworkCapture, fastParams()),
		),
	)

	id := env.createStarted(t, "fanout", nil)
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowCompleted, st.State)
	assert.Equal(t, 1, st.StepIndex)
	assert.Equal(t, 100, st.Progress)
	require.Len(t, st.ProcessIDs, 3)
	for _, procID := range st.ProcessIDs {
		proc, ok := env.sup.Status(procID)
		require.True(t, ok)
		assert.Equal(t, schema.ProcessCompleted, proc.State)
	}
}

func TestParallel_LowestIndexedFailureWins(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "contested",
		parallelStep(
			procStep(schema.ProcessDiskImaging, map[string]any{
				"sim_interval_ms": 30, "sim_steps": 3, "exit_code": 3, "error": "bad sector map",
			}),
			procStep(schema.ProcessMemoryDump, fastParams()),
			procStep(schema.ProcessMalwareScan, failingParams(5, "signature db locked")),
		),
	)

	id := env.createStarted(t, "contested", nil)
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowFailed, st.State)
	assert.Equal(t, 0, st.StepIndex)
	assert.Contains(t, st.Error, "parallel branch 0 failed",
		"the lowest-indexed failure wins even when a later branch fails first")
	assert.Contains(t, st.Error, "exited with code 3")

	require.Len(t, st.ProcessIDs, 3)
	for _, procID := range st.ProcessIDs {
		proc, ok := env.sup.Status(procID)
		require.True(t, ok)
		assert.True(t, proc.State.Terminal(), "every branch joins before the step settles")
	}
}

func TestParallel_MixedStepKinds(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "mixed",
		parallelStep(
			delayStep("5ms"),
			procStep(schema.ProcessLogAnalysis, fastParams()),
		),
	)

	id := env.createStarted(t, "mixed", nil)
	st := waitTerminal(t, env.eng, id)

	assert.Equal(t, schema.WorkflowCompleted, st.State)
	assert.Len(t, st.ProcessIDs, 1)
}

// --- Stop Tests ---

func TestStop_InterruptsProcessWait(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "longhaul", procStep(schema.ProcessDiskImaging, slowParams()))

	id := env.createStarted(t, "longhaul", nil)
	require.Eventually(t, func() bool {
		st, ok := env.eng.Status(id)
		return ok && len(st.ProcessIDs) == 1
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, env.eng.Stop(context.Background(), id))

	st, ok := env.eng.Status(id)
	require.True(t, ok)
	assert.Equal(t, schema.WorkflowStopped, st.State)
	assert.Equal(t, 0, st.StepIndex)
	require.NotNil(t, st.EndedAt)

	proc, ok := env.sup.Status(st.ProcessIDs[0])
	require.True(t, ok)
	assert.Equal(t, schema.ProcessCompleted, proc.State, "the stop sweep completes the worker")

	// The loop must notice the stop and exit without overwriting the
	// outcome.
	time.Sleep(30 * time.Millisecond)
	st, _ = env.eng.Status(id)
	assert.Equal(t, schema.WorkflowStopped, st.State)
	types := wfEventTypes(t, env.recorder, id)
	assert.Contains(t, types, schema.EventWorkflowStopping)
	assert.Contains(t, types, schema.EventWorkflowStopped)
	assert.NotContains(t, types, schema.EventWorkflowCompleted)
	assert.NotContains(t, types, schema.EventWorkflowFailed)
}

func TestStop_WakesDelayImmediately(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "dormant", delayStep("5s"), procStep(schema.ProcessDiskImaging, fastParams()))

	id := env.createStarted(t, "dormant", nil)
	require.Eventually(t, func() bool {
		st, ok := env.eng.Status(id)
		return ok && st.State == schema.WorkflowRunning
	}, 2*time.Second, 2*time.Millisecond)

	begun := time.Now()
	require.NoError(t, env.eng.Stop(context.Background(), id))
	assert.Less(t, time.Since(begun), time.Second)

	st, ok := env.eng.Status(id)
	require.True(t, ok)
	assert.Equal(t, schema.WorkflowStopped, st.State)
	assert.Empty(t, st.ProcessIDs, "the process step after the delay must never run")
}

func TestStop_CreatedWorkflow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "idle", delayStep("1ms"))

	id, err := env.eng.Create(context.Background(), "idle", nil)
	require.NoError(t, err)
	require.NoError(t, env.eng.Stop(context.Background(), id))

	st, ok := env.eng.Status(id)
	require.True(t, ok)
	assert.Equal(t, schema.WorkflowStopped, st.State)
	assert.Nil(t, st.StartedAt)
	assert.Equal(t, []string{
		schema.EventWorkflowCreated,
		schema.EventWorkflowStopping,
		schema.EventWorkflowStopped,
	}, wfEventTypes(t, env.recorder, id))
}

func TestStop_TerminalWorkflow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "quick", delayStep("1ms"))

	id := env.createStarted(t, "quick", nil)
	waitTerminal(t, env.eng, id)

	err := env.eng.Stop(context.Background(), id)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
}

func TestStop_NotFound(t *testing.T) {
	env := newTestEnv(t, Config{})
	err := env.eng.Stop(context.Background(), "wf-ghost")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

// --- Listing and Purge Tests ---

func TestList_NewestFirst(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "single", delayStep("1ms"))

	first, err := env.eng.Create(context.Background(), "single", nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := env.eng.Create(context.Background(), "single", nil)
	require.NoError(t, err)

	list := env.eng.List()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
	assert.Equal(t, 1, list[0].StepCount)
	assert.Equal(t, schema.WorkflowCreated, list[0].State)
}

func TestPurgeTerminal(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "quick", delayStep("1ms"))
	env.register(t, "dormant", delayStep("5s"))

	done := env.createStarted(t, "quick", nil)
	waitTerminal(t, env.eng, done)
	live := env.createStarted(t, "dormant", nil)

	purged := env.eng.PurgeTerminal(time.Now().UTC().Add(time.Hour))
	assert.Equal(t, []string{done}, purged)
	_, ok := env.eng.Status(done)
	assert.False(t, ok)
	_, ok = env.eng.Status(live)
	assert.True(t, ok, "non-terminal workflows survive the purge")
	assert.Contains(t, wfEventTypes(t, env.recorder, done), schema.EventWorkflowPurged)

	assert.Empty(t, env.eng.PurgeTerminal(time.Now().UTC().Add(-time.Hour)),
		"records newer than the cutoff stay")

	require.NoError(t, env.eng.Stop(context.Background(), live))
}

func TestStatus_UnknownID(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, ok := env.eng.Status("wf-ghost")
	assert.False(t, ok)
	_, ok = env.eng.Watch("wf-ghost")
	assert.False(t, ok)
}

// --- Concurrency Tests ---

func TestConcurrentWorkflows(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "pair",
		procStep(schema.ProcessDiskImaging, fastParams()),
		procStep(schema.ProcessMemoryDump, fastParams()),
	)

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = env.createStarted(t, "pair", nil)
	}
	for _, id := range ids {
		st := waitTerminal(t, env.eng, id)
		assert.Equal(t, schema.WorkflowCompleted, st.State)
		assert.Equal(t, 2, st.StepIndex)
	}
	assert.Equal(t, 0, env.sup.ActiveCount())
}

func TestStreamPublishesWorkflowLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "quick", delayStep("1ms"))

	events, cancelSub, err := env.hub.Subscribe(context.Background(),
		streaming.Filter{EntityKind: schema.EntityWorkflow})
	require.NoError(t, err)
	defer cancelSub()

	id := env.createStarted(t, "quick", nil)

	var types []string
	deadline := time.After(5 * time.Second)
collect:
	for {
		select {
		case ev := <-events:
			if ev.EntityID != id {
				continue
			}
			types = append(types, ev.EventType)
			if ev.EventType == schema.EventWorkflowCompleted {
				break collect
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream events")
		}
	}

	assert.Equal(t, schema.EventWorkflowCreated, types[0])
	assert.Contains(t, types, schema.EventWorkflowStarted)
	assert.Equal(t, schema.EventWorkflowCompleted, types[len(types)-1])
}

// --- Helper Tests ---

func TestWorkflowEventType(t *testing.T) {
	cases := []struct {
		to   schema.WorkflowState
		want string
	}{
		{schema.WorkflowRunning, schema.EventWorkflowStarted},
		{schema.WorkflowStopping, schema.EventWorkflowStopping},
		{schema.WorkflowStopped, schema.EventWorkflowStopped},
		{schema.WorkflowCompleted, schema.EventWorkflowCompleted},
		{schema.WorkflowFailed, schema.EventWorkflowFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, workflowEventType(tc.to))
	}
}

func TestProgressPct(t *testing.T) {
	cases := []struct {
		index, total, want int
	}{
		{0, 4, 0},
		{1, 4, 25},
		{2, 3, 67},
		{3, 3, 100},
		{5, 4, 100},
		{0, 0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, progressPct(tc.index, tc.total),
			"progress for %d/%d", tc.index, tc.total)
	}
}
