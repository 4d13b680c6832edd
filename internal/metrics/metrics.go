// Package metrics exposes Prometheus instrumentation for the supervisor
// and the workflow engine on a private registry.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds every instrument warden records. All components share one
// instance; the registry is private so tests never collide on global state.
type Metrics struct {
	registry *prometheus.Registry

	processStarts   *prometheus.CounterVec
	processFailures *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	workflows       *prometheus.CounterVec

	activeProcesses prometheus.Gauge
	workerCPU       *prometheus.GaugeVec
	workerRSS       *prometheus.GaugeVec

	processDuration *prometheus.HistogramVec
}

// New creates a Metrics instance backed by a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_process_starts_total",
				Help: "Forensic processes started, by process type",
			},
			[]string{"type"},
		),
		processFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_process_failures_total",
				Help: "Forensic processes that ended in error, by type and reason",
			},
			[]string{"type", "reason"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_transitions_total",
				Help: "State transitions applied, by entity kind and target state",
			},
			[]string{"entity", "to"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_alerts_total",
				Help: "Alerts raised by detection rules, by rule name",
			},
			[]string{"rule"},
		),
		workflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_workflows_total",
				Help: "Workflow state entries, by state",
			},
			[]string{"state"},
		),
		activeProcesses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_active_processes",
				Help: "Processes currently in a non-terminal state",
			},
		),
		workerCPU: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warden_worker_cpu_percent",
				Help: "Sampled worker CPU usage percentage, by process type",
			},
			[]string{"type"},
		),
		workerRSS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warden_worker_rss_bytes",
				Help: "Sampled worker resident set size in bytes, by process type",
			},
			[]string{"type"},
		),
		processDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_process_duration_seconds",
				Help:    "Wall-clock duration of terminal processes, by process type",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.processStarts,
		m.processFailures,
		m.transitions,
		m.alerts,
		m.workflows,
		m.activeProcesses,
		m.workerCPU,
		m.workerRSS,
		m.processDuration,
	)
	return m
}

// Registry returns the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ProcessStarted counts a successful process start.
func (m *Metrics) ProcessStarted(processType string) {
	m.processStarts.WithLabelValues(processType).Inc()
}

// ProcessFailed counts a process that reached the error state.
func (m *Metrics) ProcessFailed(processType, reason string) {
	m.processFailures.WithLabelValues(processType, reason).Inc()
}

// Transition counts a validated state transition.
func (m *Metrics) Transition(entity, to string) {
	m.transitions.WithLabelValues(entity, to).Inc()
}

// AlertRaised counts an alert emitted by a detection rule.
func (m *Metrics) AlertRaised(rule string) {
	m.alerts.WithLabelValues(rule).Inc()
}

// WorkflowEntered counts a workflow entering the given state.
func (m *Metrics) WorkflowEntered(state string) {
	m.workflows.WithLabelValues(state).Inc()
}

// SetActiveProcesses records the current non-terminal process count.
func (m *Metrics) SetActiveProcesses(n int) {
	m.activeProcesses.Set(float64(n))
}

// SetWorkerUsage records a resource sample for a running worker.
func (m *Metrics) SetWorkerUsage(processType string, cpuPercent float64, rssBytes uint64) {
	m.workerCPU.WithLabelValues(processType).Set(cpuPercent)
	m.workerRSS.WithLabelValues(processType).Set(float64(rssBytes))
}

// ClearWorkerUsage drops the resource gauges for a process type once no
// worker of that type remains.
func (m *Metrics) ClearWorkerUsage(processType string) {
	m.workerCPU.DeleteLabelValues(processType)
	m.workerRSS.DeleteLabelValues(processType)
}

// ObserveProcessDuration records the wall-clock duration of a terminal process.
func (m *Metrics) ObserveProcessDuration(processType string, seconds float64) {
	m.processDuration.WithLabelValues(processType).Observe(seconds)
}

// Render writes every gathered metric family to w in the Prometheus text
// exposition format.
func (m *Metrics) Render(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
