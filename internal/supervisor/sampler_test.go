package supervisor

import (
	"bytes"
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sampler Tests ---

func TestSampler_PublishesUsageForLivePIDs(t *testing.T) {
	env := newTestEnv(t, Config{MaxConcurrent: 2})

	// A record pointing at the test process itself gives the sampler a
	// PID that resolves.
	rec := &processRecord{
		id:    "proc-self",
		ptype: schema.ProcessLogAnalysis,
		state: schema.ProcessRunning,
		pid:   os.Getpid(),
		logs:  newLogRing(8),
		done:  make(chan struct{}),
	}
	env.sup.mu.Lock()
	env.sup.records[rec.id] = rec
	env.sup.mu.Unlock()

	sa := NewSampler(env.sup, env.metrics, time.Second, logging.NewNop())
	sa.sample()

	var buf bytes.Buffer
	require.NoError(t, env.metrics.Render(&buf))
	assert.Contains(t, buf.String(), `warden_worker_rss_bytes{type="log-analysis"}`)
	assert.Contains(t, buf.String(), `warden_worker_cpu_percent{type="log-analysis"}`)

	// Once the worker is gone its gauges are cleared.
	rec.mu.Lock()
	rec.state = schema.ProcessCompleted
	rec.mu.Unlock()
	sa.sample()

	buf.Reset()
	require.NoError(t, env.metrics.Render(&buf))
	assert.NotContains(t, buf.String(), `warden_worker_rss_bytes{type="log-analysis"}`)
}

func TestSampler_SkipsUnresolvablePIDs(t *testing.T) {
	env := newTestEnv(t, Config{MaxConcurrent: 2})

	// No OS process can own a PID above the kernel's pid ceiling.
	rec := &processRecord{
		id:    "proc-phantom",
		ptype: schema.ProcessDiskImaging,
		state: schema.ProcessRunning,
		pid:   math.MaxInt32,
		logs:  newLogRing(8),
		done:  make(chan struct{}),
	}
	env.sup.mu.Lock()
	env.sup.records[rec.id] = rec
	env.sup.mu.Unlock()

	sa := NewSampler(env.sup, env.metrics, time.Second, logging.NewNop())
	sa.sample()

	var buf bytes.Buffer
	require.NoError(t, env.metrics.Render(&buf))
	assert.NotContains(t, buf.String(), "warden_worker_rss_bytes")
}

func TestSampler_RunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, Config{MaxConcurrent: 2})
	sa := NewSampler(env.sup, env.metrics, 5*time.Millisecond, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sa.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop")
	}
}
