// Package supervisor runs forensic workers under a concurrency cap. It
// spawns each worker through a launcher, follows its output streams for
// progress and result markers, validates every state transition, and
// seals each record in a terminal state exactly once. Terminal records
// stay queryable until the retention sweeper purges them.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/launcher"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/metrics"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/internal/synth"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/google/uuid"
)

const defaultMaxConcurrent = 8

// Config tunes the supervisor.
type Config struct {
	// MaxConcurrent caps simultaneously active workers.
	MaxConcurrent int
	// LogCapacity bounds each worker's in-memory log ring.
	LogCapacity int
}

// Supervisor tracks every worker instance by ID.
type Supervisor struct {
	cfg      Config
	launcher launcher.Launcher
	recorder audit.Recorder
	hub      streaming.Hub
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// baseCtx bounds worker lifetimes. Request contexts end with the
	// call that carried them; the workers must not.
	baseCtx context.Context

	genMu sync.Mutex
	gen   *synth.Generator

	mu      sync.Mutex
	records map[string]*processRecord
	active  int

	wg sync.WaitGroup
}

// New creates a Supervisor. ctx bounds the lifetime of every worker it
// spawns; cancel it to tear the whole fleet down.
func New(ctx context.Context, cfg Config, l launcher.Launcher, rec audit.Recorder, hub streaming.Hub, m *metrics.Metrics, logger *slog.Logger) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = defaultLogCapacity
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{
		cfg:      cfg,
		launcher: l,
		recorder: rec,
		hub:      hub,
		metrics:  m,
		logger:   logger,
		baseCtx:  ctx,
		gen:      synth.NewGenerator(time.Now().UnixNano()),
		records:  make(map[string]*processRecord),
	}
}

// Start validates the request, reserves a worker slot, spawns the
// worker, and begins monitoring it. The returned ID addresses the
// record in every later operation.
func (s *Supervisor) Start(ctx context.Context, pt schema.ProcessType, params map[string]any) (string, error) {
	if !schema.ValidProcessType(pt) {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown process type %q", pt)
	}

	now := nowUTC()
	rec := &processRecord{
		id:        "proc-" + uuid.NewString(),
		ptype:     pt,
		params:    maps.Clone(params),
		state:     schema.ProcessInitializing,
		startedAt: now,
		updatedAt: now,
		logs:      newLogRing(s.cfg.LogCapacity),
		done:      make(chan struct{}),
	}
	rec.logs.Append(fmt.Sprintf("initializing %s worker", pt))

	s.mu.Lock()
	if s.active >= s.cfg.MaxConcurrent {
		activeNow, limit := s.active, s.cfg.MaxConcurrent
		s.mu.Unlock()
		return "", schema.NewErrorf(schema.ErrCodeCapacityExceeded,
			"concurrency limit reached (%d active, max %d)", activeNow, limit).
			WithDetails(map[string]any{"active": activeNow, "max": limit})
	}
	s.active++
	s.records[rec.id] = rec
	s.metrics.SetActiveProcesses(s.active)
	s.mu.Unlock()

	ctx = logging.WithProcessID(ctx, rec.id)
	s.emit(ctx, rec.id, schema.EventProcessStarted, map[string]any{"process_type": string(pt)})
	s.logger.InfoContext(ctx, "process starting", "process_id", rec.id, "type", string(pt))

	handle, err := s.launcher.Spawn(s.baseCtx, launcher.Spec{Type: pt, Params: rec.params})
	if err != nil {
		s.finalize(ctx, rec, schema.ProcessError, fmt.Sprintf("spawn failed: %v", err), "spawn_failed")
		return "", schema.NewErrorf(schema.ErrCodeSpawnFailed, "could not spawn %s worker", pt).
			WithProcess(rec.id).WithCause(err)
	}

	rec.mu.Lock()
	rec.handle = handle
	rec.pid = handle.PID()
	rec.mu.Unlock()

	if err := s.transition(ctx, rec, schema.ProcessRunning); err != nil {
		s.logger.WarnContext(ctx, "start transition rejected", "process_id", rec.id, "error", err)
	}
	s.metrics.ProcessStarted(string(pt))

	s.wg.Add(1)
	go s.monitor(rec, handle)

	return rec.id, nil
}

// Stop requests termination, runs the type's cleanup routine, and seals
// the record. A failed cleanup still ends the record, in the error
// state.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	rec, ok := s.get(id)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no such process").WithProcess(id)
	}
	ctx = logging.WithProcessID(ctx, id)

	if err := s.transition(ctx, rec, schema.ProcessStopping); err != nil {
		return err
	}
	rec.appendLog("stop requested")
	s.logger.InfoContext(ctx, "process stopping", "process_id", id)

	rec.mu.Lock()
	handle := rec.handle
	rec.mu.Unlock()
	if handle != nil {
		if err := handle.Signal(schema.SignalTerminate); err != nil {
			s.logger.WarnContext(ctx, "terminate signal failed", "process_id", id, "error", err)
		}
	}

	if err := s.runCleanup(ctx, rec); err != nil {
		s.finalize(ctx, rec, schema.ProcessError, fmt.Sprintf("cleanup failed: %v", err), "cleanup_failed")
		return schema.NewErrorf(schema.ErrCodeExecution, "cleanup failed").
			WithProcess(id).WithCause(err)
	}

	s.finalize(ctx, rec, schema.ProcessCompleted, "", "")
	return nil
}

// Pause suspends a running worker. Only types that support cooperative
// suspension accept it.
func (s *Supervisor) Pause(ctx context.Context, id string) error {
	rec, ok := s.get(id)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no such process").WithProcess(id)
	}
	if !rec.ptype.Pausable() {
		return schema.NewErrorf(schema.ErrCodeUnsupported,
			"process type %s does not support pause", rec.ptype).WithProcess(id)
	}
	ctx = logging.WithProcessID(ctx, id)

	rec.mu.Lock()
	if rec.state != schema.ProcessRunning {
		from := rec.state
		rec.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot pause a %s process", from).WithProcess(id).
			WithDetails(map[string]any{"from": string(from), "to": string(schema.ProcessPaused)})
	}
	handle := rec.handle
	rec.mu.Unlock()

	if err := handle.Signal(schema.SignalPause); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "pause signal failed").
			WithProcess(id).WithCause(err)
	}
	if err := s.transition(ctx, rec, schema.ProcessPaused); err != nil {
		return err
	}
	rec.appendLog("worker paused")
	s.logger.InfoContext(ctx, "process paused", "process_id", id)
	return nil
}

// Resume continues a paused worker.
func (s *Supervisor) Resume(ctx context.Context, id string) error {
	rec, ok := s.get(id)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no such process").WithProcess(id)
	}
	if !rec.ptype.Pausable() {
		return schema.NewErrorf(schema.ErrCodeUnsupported,
			"process type %s does not support resume", rec.ptype).WithProcess(id)
	}
	ctx = logging.WithProcessID(ctx, id)

	rec.mu.Lock()
	if rec.state != schema.ProcessPaused {
		from := rec.state
		rec.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot resume a %s process", from).WithProcess(id).
			WithDetails(map[string]any{"from": string(from), "to": string(schema.ProcessRunning)})
	}
	handle := rec.handle
	rec.mu.Unlock()

	if err := handle.Signal(schema.SignalResume); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "resume signal failed").
			WithProcess(id).WithCause(err)
	}
	if err := s.transition(ctx, rec, schema.ProcessRunning); err != nil {
		return err
	}
	rec.appendLog("worker resumed")
	s.logger.InfoContext(ctx, "process resumed", "process_id", id)
	return nil
}

// UpdateProgress clamps pct to [0, 100] and records it. Progress is not
// forced monotonic; a worker may legitimately report regression. Each
// quarter milestone crossed upward is logged and audited.
func (s *Supervisor) UpdateProgress(id string, pct int) {
	rec, ok := s.get(id)
	if !ok {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	rec.mu.Lock()
	if rec.state.Terminal() {
		rec.mu.Unlock()
		return
	}
	old := rec.progress
	rec.progress = pct
	rec.updatedAt = nowUTC()
	rec.mu.Unlock()

	for _, m := range []int{25, 50, 75, 100} {
		if old < m && pct >= m {
			ctx := logging.WithProcessID(s.baseCtx, id)
			s.emit(ctx, id, schema.EventProgressMilestone, map[string]any{"progress": m})
			s.logger.DebugContext(ctx, "progress milestone", "process_id", id, "progress", m)
		}
	}
}

// Status returns a snapshot of one process record.
func (s *Supervisor) Status(id string) (*ProcessStatus, bool) {
	rec, ok := s.get(id)
	if !ok {
		return nil, false
	}
	return rec.status(nowUTC()), true
}

// List returns summaries of every tracked record, newest first.
func (s *Supervisor) List() []ProcessSummary {
	s.mu.Lock()
	recs := make([]*processRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	now := nowUTC()
	out := make([]ProcessSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.summary(now))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Watch returns a channel that closes when the process reaches a
// terminal state.
func (s *Supervisor) Watch(id string) (<-chan struct{}, bool) {
	rec, ok := s.get(id)
	if !ok {
		return nil, false
	}
	return rec.done, true
}

// ActiveCount reports how many workers currently hold a slot.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PurgeTerminal removes terminal records that ended before cutoff and
// returns the purged IDs.
func (s *Supervisor) PurgeTerminal(cutoff time.Time) []string {
	s.mu.Lock()
	recs := make([]*processRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	var purged []string
	for _, rec := range recs {
		rec.mu.Lock()
		expired := rec.state.Terminal() && rec.endedAt != nil && rec.endedAt.Before(cutoff)
		rec.mu.Unlock()
		if !expired {
			continue
		}
		s.mu.Lock()
		delete(s.records, rec.id)
		s.mu.Unlock()

		ctx := logging.WithProcessID(s.baseCtx, rec.id)
		s.emit(ctx, rec.id, schema.EventProcessPurged, nil)
		s.logger.InfoContext(ctx, "process record purged", "process_id", rec.id)
		purged = append(purged, rec.id)
	}
	return purged
}

// Wait blocks until every monitor goroutine has finished. Cancel the
// constructor context first, or Wait blocks for as long as the workers
// run.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// finalize seals rec in a terminal state, releases its worker slot, and
// closes the done channel. It reports false when the record was already
// terminal; the first writer wins and later callers see a no-op. The
// slot is released and all events emitted before done closes, so a
// waiter waking on done observes the fully settled record.
func (s *Supervisor) finalize(ctx context.Context, rec *processRecord, to schema.ProcessState, errMsg, reason string) bool {
	now := nowUTC()

	rec.mu.Lock()
	if rec.state.Terminal() {
		rec.mu.Unlock()
		return false
	}
	from := rec.state
	rec.state = to
	rec.updatedAt = now
	rec.endedAt = &now
	if to == schema.ProcessCompleted {
		rec.progress = 100
		if rec.result == nil {
			rec.result = s.synthesizeResult(rec.ptype, rec.params)
		}
	}
	if errMsg != "" {
		rec.errMsg = errMsg
	}
	ptype := rec.ptype
	dur := now.Sub(rec.startedAt)
	rec.mu.Unlock()

	s.mu.Lock()
	s.active--
	s.metrics.SetActiveProcesses(s.active)
	s.mu.Unlock()

	detail := map[string]any(nil)
	if errMsg != "" {
		detail = map[string]any{"error": errMsg}
	}
	s.emitTransition(ctx, rec.id, from, to, detail)
	s.metrics.ObserveProcessDuration(string(ptype), dur.Seconds())
	if to == schema.ProcessError {
		s.metrics.ProcessFailed(string(ptype), reason)
		s.logger.ErrorContext(ctx, "process failed",
			"process_id", rec.id, "type", string(ptype), "error", errMsg, "reason", reason)
	} else {
		s.logger.InfoContext(ctx, "process completed",
			"process_id", rec.id, "type", string(ptype), "runtime", dur.String())
	}

	close(rec.done)
	return true
}

// synthesizeResult fabricates the payload a worker of the given type
// would have reported. Completed records always carry a result even
// when the worker was stopped before emitting one.
func (s *Supervisor) synthesizeResult(pt schema.ProcessType, params map[string]any) map[string]any {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	payload, ok := synth.ResultFor(s.gen, pt, params).(map[string]any)
	if !ok {
		return nil
	}
	return payload
}

// runningWorkers snapshots the active worker set for the sampler.
func (s *Supervisor) runningWorkers() []workerRef {
	s.mu.Lock()
	recs := make([]*processRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	out := make([]workerRef, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.state.Terminal() && rec.state != schema.ProcessInitializing && rec.pid > 0 {
			out = append(out, workerRef{id: rec.id, ptype: rec.ptype, pid: rec.pid})
		}
		rec.mu.Unlock()
	}
	return out
}

type workerRef struct {
	id    string
	ptype schema.ProcessType
	pid   int
}

func (s *Supervisor) get(id string) (*processRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func nowUTC() time.Time { return time.Now().UTC() }
