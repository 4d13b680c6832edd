package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Counter Tests ---

func TestProcessCounters(t *testing.T) {
	m := New()

	m.ProcessStarted("disk-imaging")
	m.ProcessStarted("disk-imaging")
	m.ProcessStarted("memory-dump")
	m.ProcessFailed("memory-dump", "spawn_failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.processStarts.WithLabelValues("disk-imaging")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processStarts.WithLabelValues("memory-dump")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processFailures.WithLabelValues("memory-dump", "spawn_failed")))
}

func TestTransitionAndWorkflowCounters(t *testing.T) {
	m := New()

	m.Transition("process", "running")
	m.Transition("process", "running")
	m.Transition("workflow", "completed")
	m.WorkflowEntered("completed")
	m.AlertRaised("anomalous-user-behaviour")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("process", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("workflow", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflows.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("anomalous-user-behaviour")))
}

// --- Gauge Tests ---

func TestActiveProcessGauge(t *testing.T) {
	m := New()

	m.SetActiveProcesses(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.activeProcesses))

	m.SetActiveProcesses(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeProcesses))
}

func TestWorkerUsageGauges(t *testing.T) {
	m := New()

	m.SetWorkerUsage("network-capture", 42.5, 128*1024*1024)
	assert.Equal(t, 42.5, testutil.ToFloat64(m.workerCPU.WithLabelValues("network-capture")))
	assert.Equal(t, float64(128*1024*1024), testutil.ToFloat64(m.workerRSS.WithLabelValues("network-capture")))

	m.ClearWorkerUsage("network-capture")
	assert.Equal(t, 0, testutil.CollectAndCount(m.workerCPU))
	assert.Equal(t, 0, testutil.CollectAndCount(m.workerRSS))
}

// --- Render Tests ---

func TestRender_TextFormat(t *testing.T) {
	m := New()

	m.ProcessStarted("disk-imaging")
	m.SetActiveProcesses(1)
	m.ObserveProcessDuration("disk-imaging", 12.5)

	var buf bytes.Buffer
	require.NoError(t, m.Render(&buf))
	out := buf.String()

	assert.Contains(t, out, `warden_process_starts_total{type="disk-imaging"} 1`)
	assert.Contains(t, out, "# TYPE warden_active_processes gauge")
	assert.Contains(t, out, "warden_active_processes 1")
	assert.Contains(t, out, `warden_process_duration_seconds_count{type="disk-imaging"} 1`)
	assert.Contains(t, out, "# TYPE warden_process_duration_seconds histogram")
}

func TestRender_EmptyFamiliesOmitted(t *testing.T) {
	m := New()

	var buf bytes.Buffer
	require.NoError(t, m.Render(&buf))

	// Vec instruments with no recorded labels produce no families; the
	// unlabeled gauge still renders.
	assert.Contains(t, buf.String(), "warden_active_processes")
	assert.False(t, strings.Contains(buf.String(), "warden_process_starts_total"))
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.ProcessStarted("disk-imaging")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.processStarts.WithLabelValues("disk-imaging")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.processStarts.WithLabelValues("disk-imaging")))
}
