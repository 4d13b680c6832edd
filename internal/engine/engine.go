// Package engine executes investigation workflows as ordered step
// lists. Each running workflow advances in its own goroutine,
// dispatching process work to the supervisor and routing decision
// branches through predicate engines. Transitions follow the workflow
// lifecycle table; every accepted one is audited, streamed, and
// counted. Terminal records stay queryable until the retention sweeper
// purges them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/expressions"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/metrics"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/internal/supervisor"
	"github.com/forensicdev/warden/internal/templates"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/google/uuid"
)

const defaultPollInterval = time.Second

// Config tunes the engine.
type Config struct {
	// PollInterval is how often a waiting process step rechecks for a
	// concurrent workflow stop.
	PollInterval time.Duration
	// StopSiblingsOnFailure stops a workflow's other live workers when a
	// step fails. Collectors keep running after a failure otherwise.
	StopSiblingsOnFailure bool
	// Validate, when set, checks every resolved definition before a
	// record is created from it.
	Validate templates.ValidateFunc
}

// Engine owns every workflow record and the step loops advancing them.
type Engine struct {
	cfg       Config
	sup       *supervisor.Supervisor
	registry  *templates.Registry
	engines   *expressions.Engines
	evaluator *rules.Evaluator
	recorder  audit.Recorder
	hub       streaming.Hub
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// baseCtx bounds step-loop lifetimes. Request contexts end with the
	// call that carried them; the loops must not.
	baseCtx context.Context

	mu      sync.Mutex
	records map[string]*workflowRecord

	wg sync.WaitGroup
}

// New creates an Engine. ctx bounds the lifetime of every step loop it
// launches; cancel it to wind the loops down.
func New(ctx context.Context, cfg Config, sup *supervisor.Supervisor, registry *templates.Registry, engines *expressions.Engines, evaluator *rules.Evaluator, rec audit.Recorder, hub streaming.Hub, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		sup:       sup,
		registry:  registry,
		engines:   engines,
		evaluator: evaluator,
		recorder:  rec,
		hub:       hub,
		metrics:   m,
		logger:    logger,
		baseCtx:   ctx,
		records:   make(map[string]*workflowRecord),
	}
}

// Create resolves a workflow type into its step list and stores a
// created record. The workflow does not run until Start.
func (e *Engine) Create(ctx context.Context, wtype string, params map[string]any) (string, error) {
	def, err := e.registry.Get(wtype)
	if err != nil {
		return "", err
	}
	if e.cfg.Validate != nil {
		if err := e.cfg.Validate(def); err != nil {
			return "", err
		}
	}

	now := nowUTC()
	rec := &workflowRecord{
		id:         "wf-" + uuid.NewString(),
		wtype:      wtype,
		params:     maps.Clone(params),
		steps:      def.Steps,
		state:      schema.WorkflowCreated,
		createdAt:  now,
		updatedAt:  now,
		stopNotice: make(chan struct{}),
		done:       make(chan struct{}),
	}
	rec.logs = append(rec.logs, fmt.Sprintf("created %s workflow with %d steps", wtype, len(def.Steps)))

	e.mu.Lock()
	e.records[rec.id] = rec
	e.mu.Unlock()

	ctx = logging.WithWorkflowID(ctx, rec.id)
	e.emit(ctx, rec.id, schema.EventWorkflowCreated, map[string]any{
		"workflow_type": wtype,
		"steps":         len(def.Steps),
	})
	e.metrics.WorkflowEntered(string(schema.WorkflowCreated))
	e.logger.InfoContext(ctx, "workflow created",
		"workflow_id", rec.id, "type", wtype, "steps", len(def.Steps))
	return rec.id, nil
}

// Start moves a created workflow to running and launches its step loop.
func (e *Engine) Start(ctx context.Context, id string) error {
	rec, ok := e.get(id)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no such workflow").WithWorkflow(id)
	}
	ctx = logging.WithWorkflowID(ctx, id)

	if err := e.transition(ctx, rec, schema.WorkflowRunning); err != nil {
		return err
	}
	rec.appendLog("workflow started")
	e.logger.InfoContext(ctx, "workflow started", "workflow_id", id, "type", rec.wtype)

	e.wg.Add(1)
	go e.runLoop(rec)
	return nil
}

// Stop interrupts a workflow, stops its referenced workers best-effort,
// and seals the record as stopped. The step loop notices the state
// change at its next suspension point and exits without writing an
// outcome of its own.
func (e *Engine) Stop(ctx context.Context, id string) error {
	rec, ok := e.get(id)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no such workflow").WithWorkflow(id)
	}
	ctx = logging.WithWorkflowID(ctx, id)

	if err := e.transition(ctx, rec, schema.WorkflowStopping); err != nil {
		return err
	}
	rec.appendLog("stop requested")
	e.logger.InfoContext(ctx, "workflow stopping", "workflow_id", id)

	// Only the caller that won the stopping transition reaches this
	// close, so it runs at most once.
	rec.mu.Lock()
	close(rec.stopNotice)
	ids := slices.Clone(rec.processIDs)
	rec.mu.Unlock()

	for _, procID := range ids {
		e.stopProcess(ctx, id, procID)
	}

	e.finalize(ctx, rec, schema.WorkflowStopped, "")
	return nil
}

// Status returns a snapshot of one workflow record.
func (e *Engine) Status(id string) (*WorkflowStatus, bool) {
	rec, ok := e.get(id)
	if !ok {
		return nil, false
	}
	return rec.status(), true
}

// List returns summaries of every tracked workflow, newest first.
func (e *Engine) List() []WorkflowSummary {
	e.mu.Lock()
	recs := make([]*workflowRecord, 0, len(e.records))
	for _, rec := range e.records {
		recs = append(recs, rec)
	}
	e.mu.Unlock()

	out := make([]WorkflowSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Watch returns a channel that closes when the workflow reaches a
// terminal state.
func (e *Engine) Watch(id string) (<-chan struct{}, bool) {
	rec, ok := e.get(id)
	if !ok {
		return nil, false
	}
	return rec.done, true
}

// PurgeTerminal removes terminal records that ended before cutoff and
// returns the purged IDs.
func (e *Engine) PurgeTerminal(cutoff time.Time) []string {
	e.mu.Lock()
	recs := make([]*workflowRecord, 0, len(e.records))
	for _, rec := range e.records {
		recs = append(recs, rec)
	}
	e.mu.Unlock()

	var purged []string
	for _, rec := range recs {
		rec.mu.Lock()
		expired := rec.state.Terminal() && rec.endedAt != nil && rec.endedAt.Before(cutoff)
		rec.mu.Unlock()
		if !expired {
			continue
		}
		e.mu.Lock()
		delete(e.records, rec.id)
		e.mu.Unlock()

		ctx := logging.WithWorkflowID(e.baseCtx, rec.id)
		e.emit(ctx, rec.id, schema.EventWorkflowPurged, nil)
		e.logger.InfoContext(ctx, "workflow record purged", "workflow_id", rec.id)
		purged = append(purged, rec.id)
	}
	return purged
}

// Wait blocks until every step loop has finished. Cancel the
// constructor context first, or Wait blocks for as long as the
// workflows run.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// finalize seals rec in a terminal state and closes the done channel.
// The target state must have a valid edge from the current one, which
// makes the first writer win: a loop outcome cannot overwrite an
// in-flight stop, and vice versa.
func (e *Engine) finalize(ctx context.Context, rec *workflowRecord, to schema.WorkflowState, errMsg string) bool {
	now := nowUTC()

	rec.mu.Lock()
	if !schema.ValidWorkflowTransition(rec.state, to) {
		rec.mu.Unlock()
		return false
	}
	from := rec.state
	rec.state = to
	rec.updatedAt = now
	rec.endedAt = &now
	if errMsg != "" {
		rec.errMsg = errMsg
	}
	rec.mu.Unlock()

	detail := map[string]any(nil)
	if errMsg != "" {
		detail = map[string]any{"error": errMsg}
	}
	e.emitTransition(ctx, rec.id, from, to, detail)
	if to == schema.WorkflowFailed {
		e.logger.ErrorContext(ctx, "workflow failed",
			"workflow_id", rec.id, "type", rec.wtype, "error", errMsg)
	} else {
		e.logger.InfoContext(ctx, "workflow finished",
			"workflow_id", rec.id, "type", rec.wtype, "state", string(to))
	}

	close(rec.done)
	return true
}

// stopProcess stops one worker best-effort. Missing and already
// terminal records need nothing; real stop failures are logged, not
// returned.
func (e *Engine) stopProcess(ctx context.Context, wfID, procID string) {
	st, ok := e.sup.Status(procID)
	if !ok || st.State.Terminal() {
		return
	}
	if err := e.sup.Stop(ctx, procID); err != nil {
		e.logger.WarnContext(ctx, "process stop failed",
			"workflow_id", wfID, "process_id", procID, "error", err)
	}
}

func (e *Engine) get(id string) (*workflowRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[id]
	return rec, ok
}

func nowUTC() time.Time { return time.Now().UTC() }
