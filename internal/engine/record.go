package engine

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/forensicdev/warden/pkg/schema"
)

// workflowRecord is the engine's in-memory state for one workflow
// instance. id, wtype, params, and steps are immutable after
// construction; the mutex guards everything else.
type workflowRecord struct {
	id     string
	wtype  string
	params map[string]any
	steps  []schema.Step

	mu         sync.Mutex
	state      schema.WorkflowState
	stepIndex  int
	processIDs []string
	errMsg     string
	logs       []string
	createdAt  time.Time
	updatedAt  time.Time
	startedAt  *time.Time
	endedAt    *time.Time

	// stopNotice closes when a stop request takes the workflow out of
	// running; suspended step handlers wake on it immediately.
	stopNotice chan struct{}
	// done closes when the record reaches a terminal state.
	done chan struct{}
}

func (r *workflowRecord) appendLog(line string) {
	r.mu.Lock()
	r.logs = append(r.logs, line)
	r.updatedAt = nowUTC()
	r.mu.Unlock()
}

func (r *workflowRecord) currentState() schema.WorkflowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// WorkflowStatus is a point-in-time snapshot of one workflow record.
type WorkflowStatus struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	State      schema.WorkflowState `json:"state"`
	StepIndex  int                  `json:"step_index"`
	StepCount  int                  `json:"step_count"`
	Progress   int                  `json:"progress"`
	Params     map[string]any       `json:"params,omitempty"`
	ProcessIDs []string             `json:"process_ids,omitempty"`
	Error      string               `json:"error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	EndedAt    *time.Time           `json:"ended_at,omitempty"`
	Logs       []string             `json:"logs,omitempty"`
}

// WorkflowSummary is the List row for one workflow record.
type WorkflowSummary struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	State     schema.WorkflowState `json:"state"`
	StepIndex int                  `json:"step_index"`
	StepCount int                  `json:"step_count"`
	Progress  int                  `json:"progress"`
	CreatedAt time.Time            `json:"created_at"`
}

func (r *workflowRecord) status() *WorkflowStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &WorkflowStatus{
		ID:         r.id,
		Type:       r.wtype,
		State:      r.state,
		StepIndex:  r.stepIndex,
		StepCount:  len(r.steps),
		Progress:   progressPct(r.stepIndex, len(r.steps)),
		Params:     maps.Clone(r.params),
		ProcessIDs: slices.Clone(r.processIDs),
		Error:      r.errMsg,
		CreatedAt:  r.createdAt,
		UpdatedAt:  r.updatedAt,
		Logs:       slices.Clone(r.logs),
	}
	if r.startedAt != nil {
		started := *r.startedAt
		st.StartedAt = &started
	}
	if r.endedAt != nil {
		ended := *r.endedAt
		st.EndedAt = &ended
	}
	return st
}

func (r *workflowRecord) summary() WorkflowSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return WorkflowSummary{
		ID:        r.id,
		Type:      r.wtype,
		State:     r.state,
		StepIndex: r.stepIndex,
		StepCount: len(r.steps),
		Progress:  progressPct(r.stepIndex, len(r.steps)),
		CreatedAt: r.createdAt,
	}
}

// progressPct reports step completion as a rounded percentage, capped
// at 100 when a skip overshoots the list end.
func progressPct(index, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(index) / float64(total)))
	if pct > 100 {
		pct = 100
	}
	return pct
}
