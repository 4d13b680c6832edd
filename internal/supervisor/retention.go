package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/robfig/cron/v3"
)

const defaultRetention = time.Hour

// Purger removes expired terminal records and reports what it removed.
// Both the supervisor and the workflow engine implement it.
type Purger interface {
	PurgeTerminal(cutoff time.Time) []string
}

// Sweeper periodically purges terminal records older than the retention
// window from every registered purger.
type Sweeper struct {
	schedule  cron.Schedule
	retention time.Duration
	purgers   []Purger
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper parses the cron schedule ("*/5 * * * *" or "@every 1m")
// and builds a sweeper over the given purgers.
func NewSweeper(scheduleExpr string, retention time.Duration, logger *slog.Logger, purgers ...Purger) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(scheduleExpr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid sweep schedule %q", scheduleExpr).WithCause(err)
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		schedule:  sched,
		retention: retention,
		purgers:   purgers,
		logger:    logger,
	}, nil
}

// Start launches the sweep loop. It returns immediately and is a no-op
// when the loop is already running.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	sw.cancel = cancel
	sw.done = done
	go sw.loop(ctx, done)
	sw.logger.Info("retention sweeper started", "retention", sw.retention.String())
}

// Stop halts the loop and waits for it to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	cancel, done := sw.cancel, sw.done
	sw.cancel, sw.done = nil, nil
	sw.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	sw.logger.Info("retention sweeper stopped")
}

func (sw *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(time.Until(sw.schedule.Next(time.Now())))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sw.sweep()
			timer.Reset(time.Until(sw.schedule.Next(time.Now())))
		}
	}
}

// sweep purges records that ended before the retention cutoff.
func (sw *Sweeper) sweep() {
	cutoff := time.Now().UTC().Add(-sw.retention)
	for _, p := range sw.purgers {
		if ids := p.PurgeTerminal(cutoff); len(ids) > 0 {
			sw.logger.Info("purged expired records",
				"count", len(ids), "cutoff", cutoff.Format(time.RFC3339))
		}
	}
}
