package supervisor

import (
	"maps"
	"sync"
	"time"

	"github.com/forensicdev/warden/internal/launcher"
	"github.com/forensicdev/warden/pkg/schema"
)

// processRecord is the supervisor's in-memory state for one worker
// instance. All mutable fields are guarded by mu. done closes exactly
// once, when the record reaches a terminal state.
type processRecord struct {
	mu sync.Mutex

	id     string
	ptype  schema.ProcessType
	params map[string]any

	state       schema.ProcessState
	pid         int
	progress    int
	errMsg      string
	lastErrLine string
	result      map[string]any

	startedAt time.Time
	updatedAt time.Time
	endedAt   *time.Time

	logs   *logRing
	handle launcher.Handle
	done   chan struct{}
}

// appendLog adds one line to the record's ring buffer.
func (r *processRecord) appendLog(line string) {
	r.mu.Lock()
	r.logs.Append(line)
	r.mu.Unlock()
}

// status snapshots the record for external callers.
func (r *processRecord) status(now time.Time) *ProcessStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := now
	if r.endedAt != nil {
		end = *r.endedAt
	}
	st := &ProcessStatus{
		ID:             r.id,
		Type:           r.ptype,
		State:          r.state,
		PID:            r.pid,
		Progress:       r.progress,
		Params:         maps.Clone(r.params),
		Result:         maps.Clone(r.result),
		Error:          r.errMsg,
		StartedAt:      r.startedAt,
		UpdatedAt:      r.updatedAt,
		RuntimeSeconds: end.Sub(r.startedAt).Seconds(),
		Logs:           r.logs.Snapshot(),
	}
	if r.endedAt != nil {
		t := *r.endedAt
		st.EndedAt = &t
	}
	return st
}

// summary snapshots the record for listings.
func (r *processRecord) summary(now time.Time) ProcessSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := now
	if r.endedAt != nil {
		end = *r.endedAt
	}
	return ProcessSummary{
		ID:             r.id,
		Type:           r.ptype,
		State:          r.state,
		Progress:       r.progress,
		StartedAt:      r.startedAt,
		RuntimeSeconds: end.Sub(r.startedAt).Seconds(),
	}
}

// ProcessStatus is a point-in-time snapshot of a supervised worker.
type ProcessStatus struct {
	ID             string              `json:"id"`
	Type           schema.ProcessType  `json:"type"`
	State          schema.ProcessState `json:"state"`
	PID            int                 `json:"pid,omitempty"`
	Progress       int                 `json:"progress"`
	Params         map[string]any      `json:"params,omitempty"`
	Result         map[string]any      `json:"result,omitempty"`
	Error          string              `json:"error,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	EndedAt        *time.Time          `json:"ended_at,omitempty"`
	RuntimeSeconds float64             `json:"runtime_seconds"`
	Logs           []string            `json:"logs,omitempty"`
}

// ProcessSummary is the compact listing row for a worker.
type ProcessSummary struct {
	ID             string              `json:"id"`
	Type           schema.ProcessType  `json:"type"`
	State          schema.ProcessState `json:"state"`
	Progress       int                 `json:"progress"`
	StartedAt      time.Time           `json:"started_at"`
	RuntimeSeconds float64             `json:"runtime_seconds"`
}
