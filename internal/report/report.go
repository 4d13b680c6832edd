// Package report assembles the investigation report: a single JSON
// document capturing every supervised worker, every workflow, the
// alerts raised during the case, and the harvested findings, plus a
// jq-computed summary. Reports are written atomically and their digest
// is recorded in the audit log.
package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/engine"
	"github.com/forensicdev/warden/internal/expressions"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/internal/supervisor"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Report is the assembled investigation document. Sections are ordered
// chronologically, oldest first, so the report reads as a case timeline.
type Report struct {
	ID             string                     `json:"id"`
	CaseID         string                     `json:"case_id,omitempty"`
	GeneratedAt    time.Time                  `json:"generated_at"`
	InvestigatorID string                     `json:"investigator_id,omitempty"`
	Processes      []supervisor.ProcessStatus `json:"processes"`
	Workflows      []engine.WorkflowStatus    `json:"workflows"`
	Alerts         []AlertEntry               `json:"alerts"`
	Findings       rules.Findings             `json:"findings"`
	Summary        map[string]any             `json:"summary,omitempty"`
}

// AlertEntry is one alert recalled from the audit log.
type AlertEntry struct {
	Rule      string         `json:"rule"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Options narrows what a report covers.
type Options struct {
	// CaseID labels the report; empty is allowed.
	CaseID string
	// Since restricts the alerts section to alerts raised at or after
	// this instant. Nil includes the whole audit history.
	Since *time.Time
}

// Config holds report generation settings.
type Config struct {
	// Dir receives reports written without an explicit path.
	Dir string
}

// Generator assembles and writes investigation reports.
type Generator struct {
	cfg      Config
	sup      *supervisor.Supervisor
	eng      *engine.Engine
	recorder audit.Recorder
	engines  *expressions.Engines
	hub      streaming.Hub
	logger   *slog.Logger
}

// New creates a report generator over the runtime registries and the
// audit log.
func New(cfg Config, sup *supervisor.Supervisor, eng *engine.Engine, recorder audit.Recorder, engines *expressions.Engines, hub streaming.Hub, logger *slog.Logger) *Generator {
	if cfg.Dir == "" {
		cfg.Dir = "reports"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Generator{
		cfg:      cfg,
		sup:      sup,
		eng:      eng,
		recorder: recorder,
		engines:  engines,
		hub:      hub,
		logger:   logger,
	}
}

// summaryQueries compute the report's summary section. Each query runs
// against the assembled document and lands under its own key.
var summaryQueries = map[string]string{
	"process_count":      ".processes | length",
	"processes_by_state": ".processes | group_by(.state) | map({(.[0].state): length}) | add // {}",
	"workflow_count":     ".workflows | length",
	"workflows_by_state": ".workflows | group_by(.state) | map({(.[0].state): length}) | add // {}",
	"alert_count":        ".alerts | length",
	"alerts_by_rule":     ".alerts | group_by(.rule) | map({(.[0].rule): length}) | add // {}",
	"flagged_users":      "[.findings.profiles[]? | select(.anomaly_score < 0) | .user_id] | unique",
	"artifact_count":     "[.findings.artifacts[]?] | length",
}

// Build assembles the report from the process and workflow registries
// and the audit log. The three sections are gathered concurrently;
// findings are then harvested from worker results and the summary is
// computed over the finished document.
func (g *Generator) Build(ctx context.Context, opts Options) (*Report, error) {
	rep := &Report{
		ID:             "rpt-" + uuid.NewString(),
		CaseID:         opts.CaseID,
		GeneratedAt:    nowUTC(),
		InvestigatorID: logging.InvestigatorID(ctx),
		Processes:      []supervisor.ProcessStatus{},
		Workflows:      []engine.WorkflowStatus{},
		Alerts:         []AlertEntry{},
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		rep.Processes = g.collectProcesses()
		return nil
	})
	grp.Go(func() error {
		rep.Workflows = g.collectWorkflows()
		return nil
	})
	grp.Go(func() error {
		alerts, err := g.collectAlerts(gctx, opts.Since)
		if err != nil {
			return err
		}
		rep.Alerts = alerts
		return nil
	})
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	payloads := make([]any, 0, len(rep.Processes))
	for _, p := range rep.Processes {
		if p.Result != nil {
			payloads = append(payloads, p.Result)
		}
	}
	rep.Findings = rules.HarvestAll(payloads)

	summary, err := g.summarize(ctx, rep)
	if err != nil {
		return nil, err
	}
	rep.Summary = summary
	return rep, nil
}

// collectProcesses snapshots every registered worker, oldest first.
func (g *Generator) collectProcesses() []supervisor.ProcessStatus {
	rows := g.sup.List()
	out := make([]supervisor.ProcessStatus, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if st, ok := g.sup.Status(rows[i].ID); ok {
			out = append(out, *st)
		}
	}
	return out
}

// collectWorkflows snapshots every workflow record, oldest first.
func (g *Generator) collectWorkflows() []engine.WorkflowStatus {
	rows := g.eng.List()
	out := make([]engine.WorkflowStatus, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if st, ok := g.eng.Status(rows[i].ID); ok {
			out = append(out, *st)
		}
	}
	return out
}

// collectAlerts recalls raised alerts from the audit log, oldest first.
func (g *Generator) collectAlerts(ctx context.Context, since *time.Time) ([]AlertEntry, error) {
	events, err := g.recorder.EventsByType(ctx, schema.EventAlertRaised, audit.Filter{
		EntityKind: schema.EntityRule,
		Since:      since,
	})
	if err != nil {
		return nil, err
	}
	out := make([]AlertEntry, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		entry := AlertEntry{Rule: ev.EntityID, Timestamp: ev.Timestamp}
		if len(ev.Payload) > 0 {
			var details map[string]any
			if err := json.Unmarshal(ev.Payload, &details); err == nil {
				entry.Details = details
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// summarize runs every summary query against the report document.
func (g *Generator) summarize(ctx context.Context, rep *Report) (map[string]any, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"report document marshal failed: %s", err.Error()).WithCause(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"report document decode failed: %s", err.Error()).WithCause(err)
	}

	jq := g.engines.JQ()
	summary := make(map[string]any, len(summaryQueries))
	for name, query := range summaryQueries {
		val, err := jq.Evaluate(ctx, query, doc)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"summary query %q failed: %s", name, err.Error()).WithCause(err)
		}
		summary[name] = val
	}
	return summary, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
