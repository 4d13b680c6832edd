package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/metrics"
	"github.com/shirou/gopsutil/v3/process"
)

const defaultSampleInterval = 15 * time.Second

// Sampler polls per-worker CPU and memory usage and publishes per-type
// aggregates to the metrics registry. Workers whose PIDs do not resolve
// to a real OS process (simulated workers, just-exited workers) are
// skipped.
type Sampler struct {
	sup      *Supervisor
	metrics  *metrics.Metrics
	interval time.Duration
	logger   *slog.Logger

	seen map[string]bool
}

func NewSampler(sup *Supervisor, m *metrics.Metrics, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sampler{
		sup:      sup,
		metrics:  m,
		interval: interval,
		logger:   logger,
		seen:     make(map[string]bool),
	}
}

// Run samples on the configured interval until ctx is canceled.
func (sa *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sa.interval)
	defer ticker.Stop()
	sa.logger.Info("resource sampler started", "interval", sa.interval.String())
	for {
		select {
		case <-ctx.Done():
			sa.logger.Info("resource sampler stopped")
			return nil
		case <-ticker.C:
			sa.sample()
		}
	}
}

// sample aggregates usage across the live workers of each type and
// clears gauges for types with no remaining workers.
func (sa *Sampler) sample() {
	type usage struct {
		cpu float64
		rss uint64
	}
	byType := make(map[string]*usage)
	for _, w := range sa.sup.runningWorkers() {
		p, err := process.NewProcess(int32(w.pid))
		if err != nil {
			continue
		}
		u := byType[string(w.ptype)]
		if u == nil {
			u = &usage{}
			byType[string(w.ptype)] = u
		}
		if cpu, err := p.CPUPercent(); err == nil {
			u.cpu += cpu
		}
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			u.rss += mi.RSS
		}
	}

	for t, u := range byType {
		sa.metrics.SetWorkerUsage(t, u.cpu, u.rss)
		sa.seen[t] = true
	}
	for t := range sa.seen {
		if _, ok := byType[t]; !ok {
			sa.metrics.ClearWorkerUsage(t)
			delete(sa.seen, t)
		}
	}
}
