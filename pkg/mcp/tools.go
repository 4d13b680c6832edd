package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forensicdev/warden/internal/identity"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/report"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// handleStartProcess launches a forensic worker.
func (s *WardenServer) handleStartProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ptype, err := req.RequireString("process_type")
	if err != nil {
		return mcp.NewToolResultError("process_type is required"), nil
	}
	params := mcp.ParseStringMap(req, "params", nil)

	ctx, errResult := s.identify(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	id, startErr := s.supervisor.Start(ctx, schema.ProcessType(ptype), params)
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", startErr)), nil
	}

	status, ok := s.supervisor.Status(id)
	if !ok {
		return marshalResult(map[string]any{"process_id": id})
	}
	return marshalResult(status)
}

// handleStopProcess stops a worker. The stop ran either way, so the
// outcome comes back as {ok: bool} data rather than a tool error.
func (s *WardenServer) handleStopProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("process_id")
	if err != nil {
		return mcp.NewToolResultError("process_id is required"), nil
	}
	ctx, errResult := s.identify(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	return booleanResult("process_id", id, s.supervisor.Stop(ctx, id))
}

// handlePauseProcess suspends a running worker; responds {ok: bool}.
func (s *WardenServer) handlePauseProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("process_id")
	if err != nil {
		return mcp.NewToolResultError("process_id is required"), nil
	}
	ctx, errResult := s.identify(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	return booleanResult("process_id", id, s.supervisor.Pause(ctx, id))
}

// handleResumeProcess continues a paused worker; responds {ok: bool}.
func (s *WardenServer) handleResumeProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("process_id")
	if err != nil {
		return mcp.NewToolResultError("process_id is required"), nil
	}
	ctx, errResult := s.identify(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	return booleanResult("process_id", id, s.supervisor.Resume(ctx, id))
}

// handleProcessStatus returns the full record of one worker process.
func (s *WardenServer) handleProcessStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("process_id")
	if err != nil {
		return mcp.NewToolResultError("process_id is required"), nil
	}
	status, ok := s.supervisor.Status(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no such process: %s", id)), nil
	}
	return marshalResult(status)
}

// handleListProcesses lists worker process summaries, newest first.
func (s *WardenServer) handleListProcesses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	procs := s.supervisor.List()
	return marshalResult(map[string]any{"processes": procs, "count": len(procs)})
}

// handleCreateWorkflow resolves a template into a created workflow.
func (s *WardenServer) handleCreateWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wtype, err := req.RequireString("workflow_type")
	if err != nil {
		return mcp.NewToolResultError("workflow_type is required"), nil
	}
	params := mcp.ParseStringMap(req, "params", nil)

	ctx, errResult := s.identify(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	id, createErr := s.engine.Create(ctx, wtype, params)
	if createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", createErr)), nil
	}

	status, ok := s.engine.Status(id)
	if !ok {
		return marshalResult(map[string]any{"workflow_id": id})
	}
	return marshalResult(status)
}

// handleStartWorkflow begins a created workflow's step loop.
func (s *WardenServer) handleStartWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	ctx, errResult := s.identify(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	if startErr := s.engine.Start(ctx, id); startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", startErr)), nil
	}

	status, ok := s.engine.Status(id)
	if !ok {
		return marshalResult(map[string]any{"workflow_id": id})
	}
	return marshalResult(status)
}

// handleStopWorkflow stops a workflow and its processes; responds
// {ok: bool}.
func (s *WardenServer) handleStopWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	ctx, errResult := s.identify(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	return booleanResult("workflow_id", id, s.engine.Stop(ctx, id))
}

// handleWorkflowStatus returns the full record of one workflow.
func (s *WardenServer) handleWorkflowStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	status, ok := s.engine.Status(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no such workflow: %s", id)), nil
	}
	return marshalResult(status)
}

// handleListWorkflows lists workflow summaries, newest first.
func (s *WardenServer) handleListWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflows := s.engine.List()
	return marshalResult(map[string]any{"workflows": workflows, "count": len(workflows)})
}

// handleEvaluateRules runs the detection rules over supplied findings.
// Evaluation is pure; nothing is stored or raised as a side effect.
func (s *WardenServer) handleEvaluateRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "findings", nil)
	if raw == nil {
		return mcp.NewToolResultError("findings is required"), nil
	}

	findings := rules.Harvest(raw)
	alerts := s.rules.Evaluate(findings.Profiles, findings.Artifacts)
	if alerts == nil {
		alerts = []rules.Alert{}
	}
	return marshalResult(map[string]any{"alerts": alerts, "count": len(alerts)})
}

// handleWriteReport assembles the investigation report and writes it.
func (s *WardenServer) handleWriteReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, errResult := s.identify(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	opts := report.Options{CaseID: req.GetString("case_id", "")}
	if since := req.GetString("since", ""); since != "" {
		t, parseErr := time.Parse(time.RFC3339, since)
		if parseErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since timestamp: %v", parseErr)), nil
		}
		opts.Since = &t
	}

	rep, written, genErr := s.reports.Generate(ctx, opts, req.GetString("path", ""))
	if genErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report generation failed: %v", genErr)), nil
	}

	return marshalResult(map[string]any{
		"report_id":      rep.ID,
		"path":           written.Path,
		"digest":         written.Digest,
		"bytes":          written.Bytes,
		"process_count":  len(rep.Processes),
		"workflow_count": len(rep.Workflows),
		"alert_count":    len(rep.Alerts),
	})
}

// --- Internal helpers ---

// identify registers the calling investigator when the request names
// one, maps the session for notifications, and threads the ID through
// the context so audit events carry it.
func (s *WardenServer) identify(ctx context.Context, req mcp.CallToolRequest) (context.Context, *mcp.CallToolResult) {
	id := req.GetString("investigator_id", "")
	if id == "" {
		return ctx, nil
	}
	if _, err := s.identity.EnsureRegistered(ctx, id, id, identity.RoleAnalyst); err != nil {
		return ctx, mcp.NewToolResultError(fmt.Sprintf("investigator registration failed: %v", err))
	}
	s.captureSession(ctx, id)
	return logging.WithInvestigatorID(ctx, id), nil
}

// captureSession maps the investigator ID to its current MCP session
// for notifications.
func (s *WardenServer) captureSession(ctx context.Context, investigatorID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(investigatorID, session.SessionID())
	}
}

// booleanResult renders an operation outcome in the {ok} shape shared
// by the stop, pause, and resume tools.
func booleanResult(idKey, id string, opErr error) (*mcp.CallToolResult, error) {
	body := map[string]any{"ok": opErr == nil, idKey: id}
	if opErr != nil {
		body["error"] = opErr.Error()
		if code := errorCode(opErr); code != "" {
			body["code"] = code
		}
	}
	return marshalResult(body)
}

// errorCode extracts the structured code from a warden error chain.
func errorCode(err error) string {
	var werr *schema.WardenError
	if errors.As(err, &werr) {
		return werr.Code
	}
	return ""
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
