package supervisor

import (
	"context"
	"encoding/json"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/pkg/schema"
)

// transition moves rec to a non-terminal state after validating the
// edge against the lifecycle table, then emits the matching event.
func (s *Supervisor) transition(ctx context.Context, rec *processRecord, to schema.ProcessState) error {
	rec.mu.Lock()
	from := rec.state
	if !schema.ValidProcessTransition(from, to) {
		rec.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot transition from %s to %s", from, to).
			WithProcess(rec.id).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	rec.state = to
	rec.updatedAt = nowUTC()
	rec.mu.Unlock()

	s.emitTransition(ctx, rec.id, from, to, nil)
	return nil
}

// emitTransition records an accepted transition in the audit log, the
// stream hub, and the metrics registry.
func (s *Supervisor) emitTransition(ctx context.Context, id string, from, to schema.ProcessState, detail map[string]any) {
	payload := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range detail {
		payload[k] = v
	}
	s.emit(ctx, id, processEventType(from, to), payload)
	s.metrics.Transition(schema.EntityProcess, string(to))
	s.logger.DebugContext(ctx, "process transition",
		"process_id", id, "from", string(from), "to", string(to))
}

// emit appends one lifecycle event to the audit log and publishes it on
// the stream hub. The in-memory record is authoritative; emission
// failures are logged, not returned.
func (s *Supervisor) emit(ctx context.Context, id, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	ev := &audit.Event{
		EntityKind:     schema.EntityProcess,
		EntityID:       id,
		Type:           eventType,
		Payload:        raw,
		InvestigatorID: logging.InvestigatorID(ctx),
	}
	if err := s.recorder.Append(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "audit append failed",
			"process_id", id, "event_type", eventType, "error", err)
	}
	if err := s.hub.Publish(ctx, streaming.Event{
		EntityKind: schema.EntityProcess,
		EntityID:   id,
		EventType:  eventType,
		Payload:    payload,
	}); err != nil {
		s.logger.WarnContext(ctx, "stream publish failed",
			"process_id", id, "event_type", eventType, "error", err)
	}
}

// processEventType maps an accepted transition to its audit event type.
func processEventType(from, to schema.ProcessState) string {
	switch to {
	case schema.ProcessRunning:
		if from == schema.ProcessPaused {
			return schema.EventProcessResumed
		}
		return schema.EventProcessRunning
	case schema.ProcessPaused:
		return schema.EventProcessPaused
	case schema.ProcessStopping:
		return schema.EventProcessStopping
	case schema.ProcessCompleted:
		return schema.EventProcessCompleted
	case schema.ProcessError:
		return schema.EventProcessFailed
	default:
		return schema.EventProcessRunning
	}
}
