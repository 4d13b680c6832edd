// Package mcp exposes warden's investigation controls over the Model
// Context Protocol. A stdio server registers one tool per public
// operation; a notifier forwards live stream events to connected
// clients as notifications.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/engine"
	"github.com/forensicdev/warden/internal/report"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/internal/supervisor"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ProcessController is the supervisor surface the process tools drive.
type ProcessController interface {
	Start(ctx context.Context, pt schema.ProcessType, params map[string]any) (string, error)
	Stop(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Status(id string) (*supervisor.ProcessStatus, bool)
	List() []supervisor.ProcessSummary
}

// WorkflowController is the engine surface the workflow tools drive.
type WorkflowController interface {
	Create(ctx context.Context, wtype string, params map[string]any) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Status(id string) (*engine.WorkflowStatus, bool)
	List() []engine.WorkflowSummary
}

// ReportWriter produces and persists investigation reports.
type ReportWriter interface {
	Generate(ctx context.Context, opts report.Options, path string) (*report.Report, *report.Written, error)
}

// InvestigatorDirectory registers the investigators behind tool calls.
type InvestigatorDirectory interface {
	EnsureRegistered(ctx context.Context, id, name, role string) (*audit.InvestigatorRecord, error)
}

// WardenServerDeps holds the dependencies for creating a WardenServer.
type WardenServerDeps struct {
	Supervisor ProcessController
	Engine     WorkflowController
	Rules      *rules.Evaluator
	Reports    ReportWriter
	Identity   InvestigatorDirectory
	Hub        streaming.Hub
	Logger     *slog.Logger
}

// WardenServer wraps an MCP server with warden-specific tool handlers.
type WardenServer struct {
	supervisor ProcessController
	engine     WorkflowController
	rules      *rules.Evaluator
	reports    ReportWriter
	identity   InvestigatorDirectory
	hub        streaming.Hub
	logger     *slog.Logger
	sessions   *SessionRegistry
	mcpServer  *server.MCPServer
	notifier   *Notifier
}

// NewWardenServer creates a WardenServer with all 13 tools registered.
func NewWardenServer(deps WardenServerDeps) *WardenServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &WardenServer{
		supervisor: deps.Supervisor,
		engine:     deps.Engine,
		rules:      deps.Rules,
		reports:    deps.Reports,
		identity:   deps.Identity,
		hub:        deps.Hub,
		logger:     logger,
		sessions:   NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"warden",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Warden orchestrates forensic investigation workers. Use warden.start_process to launch a worker, warden.create_workflow plus warden.start_workflow to run a multi-step investigation, the status and list tools to inspect progress, warden.evaluate_rules to run detection rules over findings, and warden.write_report to produce the case report."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewNotifier(mcpSrv, s.sessions, deps.Hub, logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *WardenServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *WardenServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Notifier returns the stream-event bridge; callers run it alongside
// Serve.
func (s *WardenServer) Notifier() *Notifier {
	return s.notifier
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *WardenServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startProcessTool(), Handler: s.handleStartProcess},
		{Tool: stopProcessTool(), Handler: s.handleStopProcess},
		{Tool: pauseProcessTool(), Handler: s.handlePauseProcess},
		{Tool: resumeProcessTool(), Handler: s.handleResumeProcess},
		{Tool: processStatusTool(), Handler: s.handleProcessStatus},
		{Tool: listProcessesTool(), Handler: s.handleListProcesses},
		{Tool: createWorkflowTool(), Handler: s.handleCreateWorkflow},
		{Tool: startWorkflowTool(), Handler: s.handleStartWorkflow},
		{Tool: stopWorkflowTool(), Handler: s.handleStopWorkflow},
		{Tool: workflowStatusTool(), Handler: s.handleWorkflowStatus},
		{Tool: listWorkflowsTool(), Handler: s.handleListWorkflows},
		{Tool: evaluateRulesTool(), Handler: s.handleEvaluateRules},
		{Tool: writeReportTool(), Handler: s.handleWriteReport},
	}
}

// --- Tool definitions ---

func startProcessTool() mcp.Tool {
	return mcp.NewTool("warden.start_process",
		mcp.WithDescription("Launch a forensic worker process"),
		mcp.WithString("process_type", mcp.Required(),
			mcp.Enum("disk-imaging", "memory-dump", "network-capture", "log-analysis", "malware-scan"),
			mcp.Description("Type of forensic worker to launch"),
		),
		mcp.WithObject("params", mcp.Description("Worker parameters (target_path, output_path, type-specific options)")),
		mcp.WithString("investigator_id", mcp.Description("ID of the investigator initiating the process")),
	)
}

func stopProcessTool() mcp.Tool {
	return mcp.NewTool("warden.stop_process",
		mcp.WithDescription("Stop a worker process and run its cleanup; responds with {ok: bool}"),
		mcp.WithString("process_id", mcp.Required(), mcp.Description("ID of the process to stop")),
		mcp.WithString("investigator_id", mcp.Description("ID of the requesting investigator")),
	)
}

func pauseProcessTool() mcp.Tool {
	return mcp.NewTool("warden.pause_process",
		mcp.WithDescription("Pause a running worker process; responds with {ok: bool}"),
		mcp.WithString("process_id", mcp.Required(), mcp.Description("ID of the process to pause")),
		mcp.WithString("investigator_id", mcp.Description("ID of the requesting investigator")),
	)
}

func resumeProcessTool() mcp.Tool {
	return mcp.NewTool("warden.resume_process",
		mcp.WithDescription("Resume a paused worker process; responds with {ok: bool}"),
		mcp.WithString("process_id", mcp.Required(), mcp.Description("ID of the process to resume")),
		mcp.WithString("investigator_id", mcp.Description("ID of the requesting investigator")),
	)
}

func processStatusTool() mcp.Tool {
	return mcp.NewTool("warden.process_status",
		mcp.WithDescription("Get the full status record of a worker process, including logs"),
		mcp.WithString("process_id", mcp.Required(), mcp.Description("ID of the process to query")),
	)
}

func listProcessesTool() mcp.Tool {
	return mcp.NewTool("warden.list_processes",
		mcp.WithDescription("List all worker processes, newest first"),
	)
}

func createWorkflowTool() mcp.Tool {
	return mcp.NewTool("warden.create_workflow",
		mcp.WithDescription("Create an investigation workflow from a registered template"),
		mcp.WithString("workflow_type", mcp.Required(), mcp.Description("Workflow template name (e.g. evidence-collection, full-investigation, triage, log-review)")),
		mcp.WithObject("params", mcp.Description("Workflow parameters, interpolated into step params")),
		mcp.WithString("investigator_id", mcp.Description("ID of the investigator creating the workflow")),
	)
}

func startWorkflowTool() mcp.Tool {
	return mcp.NewTool("warden.start_workflow",
		mcp.WithDescription("Start a created workflow's step loop"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to start")),
		mcp.WithString("investigator_id", mcp.Description("ID of the requesting investigator")),
	)
}

func stopWorkflowTool() mcp.Tool {
	return mcp.NewTool("warden.stop_workflow",
		mcp.WithDescription("Stop a running workflow and its processes; responds with {ok: bool}"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to stop")),
		mcp.WithString("investigator_id", mcp.Description("ID of the requesting investigator")),
	)
}

func workflowStatusTool() mcp.Tool {
	return mcp.NewTool("warden.workflow_status",
		mcp.WithDescription("Get the full status record of a workflow, including step progress and logs"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to query")),
	)
}

func listWorkflowsTool() mcp.Tool {
	return mcp.NewTool("warden.list_workflows",
		mcp.WithDescription("List all workflows, newest first"),
	)
}

func evaluateRulesTool() mcp.Tool {
	return mcp.NewTool("warden.evaluate_rules",
		mcp.WithDescription("Run the detection rules over supplied findings and return the alerts"),
		mcp.WithObject("findings", mcp.Required(), mcp.Description("Findings document with 'profiles' (anomaly records) and 'artifacts' (memory artifacts)")),
	)
}

func writeReportTool() mcp.Tool {
	return mcp.NewTool("warden.write_report",
		mcp.WithDescription("Assemble the investigation report and write it to disk with a custody digest"),
		mcp.WithString("case_id", mcp.Description("Case identifier recorded in the report")),
		mcp.WithString("since", mcp.Description("Only include alerts raised at or after this RFC3339 timestamp")),
		mcp.WithString("path", mcp.Description("Output path (default: reports dir with a timestamped name)")),
		mcp.WithString("investigator_id", mcp.Description("ID of the investigator generating the report")),
	)
}
