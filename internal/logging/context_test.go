package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", ProcessID(ctx))
	assert.Equal(t, "", WorkflowID(ctx))
	assert.Equal(t, "", InvestigatorID(ctx))

	// Set values.
	ctx = WithProcessID(ctx, "proc-123")
	ctx = WithWorkflowID(ctx, "wf-1")
	ctx = WithInvestigatorID(ctx, "inv-42")

	// Round-trip.
	assert.Equal(t, "proc-123", ProcessID(ctx))
	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "inv-42", InvestigatorID(ctx))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithProcessID(context.Background(), "proc-auto")
	ctx = WithWorkflowID(ctx, "wf-auto")
	ctx = WithInvestigatorID(ctx, "inv-auto")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"process_id":"proc-auto"`)
	assert.Contains(t, output, `"workflow_id":"wf-auto"`)
	assert.Contains(t, output, `"investigator_id":"inv-auto"`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "process_id")
	assert.NotContains(t, output, "workflow_id")
	assert.NotContains(t, output, "investigator_id")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerPartialContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithProcessID(context.Background(), "proc-only")
	logger.InfoContext(ctx, "partial")

	output := buf.String()
	assert.Contains(t, output, `"process_id":"proc-only"`)
	assert.NotContains(t, output, "workflow_id")
	assert.NotContains(t, output, "investigator_id")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "supervisor")}))

	ctx := WithProcessID(context.Background(), "proc-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"process_id":"proc-attr"`)
	assert.Contains(t, output, `"component":"supervisor"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithGroup("supervisor"))

	ctx := WithWorkflowID(context.Background(), "wf-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "wf-grp")
	assert.Contains(t, output, "grouped")
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	// Must not panic and must discard output.
	logger.InfoContext(context.Background(), "discarded")
}
