package schema

// Entity kinds recorded on audit events and stream events.
const (
	EntityProcess      = "process"
	EntityWorkflow     = "workflow"
	EntityRule         = "rule"
	EntityReport       = "report"
	EntityInvestigator = "investigator"
)

// Event type constants for the audit log and the stream hub.
const (
	EventProcessStarted    = "process_started"
	EventProcessRunning    = "process_running"
	EventProcessPaused     = "process_paused"
	EventProcessResumed    = "process_resumed"
	EventProcessStopping   = "process_stopping"
	EventProcessCompleted  = "process_completed"
	EventProcessFailed     = "process_failed"
	EventProcessPurged     = "process_purged"
	EventProgressMilestone = "progress_milestone"

	EventWorkflowCreated   = "workflow_created"
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowStopping  = "workflow_stopping"
	EventWorkflowStopped   = "workflow_stopped"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
	EventWorkflowPurged    = "workflow_purged"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventBranchTaken   = "branch_taken"

	EventAlertRaised   = "alert_raised"
	EventReportWritten = "report_written"

	EventInvestigatorRegistered = "investigator_registered"
)
