package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	processIDKey ctxKey = iota
	workflowIDKey
	investigatorIDKey
)

// WithProcessID returns a context with the process ID set.
func WithProcessID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, processIDKey, id)
}

// WithWorkflowID returns a context with the workflow ID set.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WithInvestigatorID returns a context with the investigator ID set.
func WithInvestigatorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, investigatorIDKey, id)
}

// ProcessID extracts the process ID from the context, or "" if absent.
func ProcessID(ctx context.Context) string {
	v, _ := ctx.Value(processIDKey).(string)
	return v
}

// WorkflowID extracts the workflow ID from the context, or "" if absent.
func WorkflowID(ctx context.Context) string {
	v, _ := ctx.Value(workflowIDKey).(string)
	return v
}

// InvestigatorID extracts the investigator ID from the context, or "" if absent.
func InvestigatorID(ctx context.Context) string {
	v, _ := ctx.Value(investigatorIDKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := ProcessID(ctx); v != "" {
		r.AddAttrs(slog.String("process_id", v))
	}
	if v := WorkflowID(ctx); v != "" {
		r.AddAttrs(slog.String("workflow_id", v))
	}
	if v := InvestigatorID(ctx); v != "" {
		r.AddAttrs(slog.String("investigator_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
