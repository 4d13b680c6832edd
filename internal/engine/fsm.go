package engine

import (
	"context"
	"encoding/json"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/pkg/schema"
)

// transition moves rec to a non-terminal state after validating the
// edge against the lifecycle table, then emits the matching event.
// Entering running stamps the start time.
func (e *Engine) transition(ctx context.Context, rec *workflowRecord, to schema.WorkflowState) error {
	now := nowUTC()

	rec.mu.Lock()
	from := rec.state
	if !schema.ValidWorkflowTransition(from, to) {
		rec.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot transition from %s to %s", from, to).
			WithWorkflow(rec.id).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	rec.state = to
	rec.updatedAt = now
	if to == schema.WorkflowRunning && rec.startedAt == nil {
		rec.startedAt = &now
	}
	rec.mu.Unlock()

	e.emitTransition(ctx, rec.id, from, to, nil)
	return nil
}

// emitTransition records an accepted transition in the audit log, the
// stream hub, and the metrics registry.
func (e *Engine) emitTransition(ctx context.Context, id string, from, to schema.WorkflowState, detail map[string]any) {
	payload := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range detail {
		payload[k] = v
	}
	e.emit(ctx, id, workflowEventType(to), payload)
	e.metrics.Transition(schema.EntityWorkflow, string(to))
	e.metrics.WorkflowEntered(string(to))
	e.logger.DebugContext(ctx, "workflow transition",
		"workflow_id", id, "from", string(from), "to", string(to))
}

// emit appends one workflow event to the audit log and publishes it on
// the stream hub.
func (e *Engine) emit(ctx context.Context, id, eventType string, payload map[string]any) {
	e.publish(ctx, schema.EntityWorkflow, id, eventType, payload)
}

// emitAlert records one rule hit raised while building a decision
// scope, keyed by the rule that fired.
func (e *Engine) emitAlert(ctx context.Context, wfID string, a rules.Alert) {
	payload := map[string]any{
		"rule":        a.Rule,
		"subject":     a.Subject,
		"message":     a.Message,
		"workflow_id": wfID,
	}
	e.publish(ctx, schema.EntityRule, a.Rule, schema.EventAlertRaised, payload)
	e.metrics.AlertRaised(a.Rule)
	e.logger.WarnContext(ctx, "alert raised",
		"workflow_id", wfID, "rule", a.Rule, "subject", a.Subject, "message", a.Message)
}

// publish writes one event to the audit log and the stream hub. The
// in-memory record is authoritative; emission failures are logged, not
// returned.
func (e *Engine) publish(ctx context.Context, kind, id, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	ev := &audit.Event{
		EntityKind:     kind,
		EntityID:       id,
		Type:           eventType,
		Payload:        raw,
		InvestigatorID: logging.InvestigatorID(ctx),
	}
	if err := e.recorder.Append(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "audit append failed",
			"entity_kind", kind, "entity_id", id, "event_type", eventType, "error", err)
	}
	if err := e.hub.Publish(ctx, streaming.Event{
		EntityKind: kind,
		EntityID:   id,
		EventType:  eventType,
		Payload:    payload,
	}); err != nil {
		e.logger.WarnContext(ctx, "stream publish failed",
			"entity_kind", kind, "entity_id", id, "event_type", eventType, "error", err)
	}
}

// workflowEventType maps an accepted transition to its audit event type.
func workflowEventType(to schema.WorkflowState) string {
	switch to {
	case schema.WorkflowRunning:
		return schema.EventWorkflowStarted
	case schema.WorkflowStopping:
		return schema.EventWorkflowStopping
	case schema.WorkflowStopped:
		return schema.EventWorkflowStopped
	case schema.WorkflowCompleted:
		return schema.EventWorkflowCompleted
	case schema.WorkflowFailed:
		return schema.EventWorkflowFailed
	default:
		return schema.EventWorkflowStarted
	}
}
