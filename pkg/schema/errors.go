package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeCapacityExceeded    = "CAPACITY_EXCEEDED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeUnsupported         = "UNSUPPORTED_OPERATION"
	ErrCodeSpawnFailed         = "SPAWN_FAILED"
	ErrCodeWorkerFailed        = "WORKER_FAILED"
	ErrCodeStepFailed          = "STEP_FAILED"
	ErrCodeUnknownStepType     = "UNKNOWN_STEP_TYPE"
	ErrCodeUnknownWorkflowType = "UNKNOWN_WORKFLOW_TYPE"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeAudit               = "AUDIT_ERROR"
	ErrCodeSecret              = "SECRET_ERROR"
	ErrCodePathDenied          = "PATH_DENIED"
)

// WardenError is the structured error type for all warden operations.
type WardenError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	ProcessID  string         `json:"process_id,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Cause      error          `json:"-"`
}

func (e *WardenError) Error() string {
	switch {
	case e.ProcessID != "":
		return fmt.Sprintf("[%s] process %s: %s", e.Code, e.ProcessID, e.Message)
	case e.WorkflowID != "":
		return fmt.Sprintf("[%s] workflow %s: %s", e.Code, e.WorkflowID, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *WardenError) Unwrap() error {
	return e.Cause
}

// NewError creates a new WardenError.
func NewError(code, message string) *WardenError {
	return &WardenError{Code: code, Message: message}
}

// NewErrorf creates a new WardenError with a formatted message.
func NewErrorf(code, format string, args ...any) *WardenError {
	return &WardenError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithProcess attaches a process ID to the error.
func (e *WardenError) WithProcess(processID string) *WardenError {
	e.ProcessID = processID
	return e
}

// WithWorkflow attaches a workflow ID to the error.
func (e *WardenError) WithWorkflow(workflowID string) *WardenError {
	e.WorkflowID = workflowID
	return e
}

// WithCause attaches an underlying cause.
func (e *WardenError) WithCause(err error) *WardenError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WardenError) WithDetails(details map[string]any) *WardenError {
	e.Details = details
	return e
}

// IsCode reports whether err is a WardenError carrying the given code.
func IsCode(err error, code string) bool {
	var werr *WardenError
	return errors.As(err, &werr) && werr.Code == code
}
