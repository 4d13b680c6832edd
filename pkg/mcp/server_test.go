package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWardenServer(t *testing.T) {
	s := NewWardenServer(WardenServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.sessions)
	assert.NotNil(t, s.Notifier())
}

func TestToolRegistration(t *testing.T) {
	s := NewWardenServer(WardenServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 13)

	expectedTools := []string{
		"warden.start_process",
		"warden.stop_process",
		"warden.pause_process",
		"warden.resume_process",
		"warden.process_status",
		"warden.list_processes",
		"warden.create_workflow",
		"warden.start_workflow",
		"warden.stop_workflow",
		"warden.workflow_status",
		"warden.list_workflows",
		"warden.evaluate_rules",
		"warden.write_report",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"start_process", "warden.start_process", "Launch a forensic worker process"},
		{"stop_process", "warden.stop_process", "Stop a worker process and run its cleanup; responds with {ok: bool}"},
		{"pause_process", "warden.pause_process", "Pause a running worker process; responds with {ok: bool}"},
		{"resume_process", "warden.resume_process", "Resume a paused worker process; responds with {ok: bool}"},
		{"process_status", "warden.process_status", "Get the full status record of a worker process, including logs"},
		{"list_processes", "warden.list_processes", "List all worker processes, newest first"},
		{"create_workflow", "warden.create_workflow", "Create an investigation workflow from a registered template"},
		{"start_workflow", "warden.start_workflow", "Start a created workflow's step loop"},
		{"stop_workflow", "warden.stop_workflow", "Stop a running workflow and its processes; responds with {ok: bool}"},
		{"workflow_status", "warden.workflow_status", "Get the full status record of a workflow, including step progress and logs"},
		{"list_workflows", "warden.list_workflows", "List all workflows, newest first"},
		{"evaluate_rules", "warden.evaluate_rules", "Run the detection rules over supplied findings and return the alerts"},
		{"write_report", "warden.write_report", "Assemble the investigation report and write it to disk with a custody digest"},
	}

	s := NewWardenServer(WardenServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
