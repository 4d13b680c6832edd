package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forensicdev/warden/pkg/schema"
)

const (
	defaultSimInterval = 200 * time.Millisecond
	defaultSimSteps    = 10
	simPIDBase         = 70000
)

// SimConfig configures the simulated launcher.
type SimConfig struct {
	// DefaultInterval is the pause between progress ticks.
	DefaultInterval time.Duration
	// DefaultSteps is the number of progress increments up to 100.
	DefaultSteps int
	// Results synthesizes the worker's result payload on clean exit.
	// Nil means no result line unless the Spec params carry one.
	Results func(t schema.ProcessType, params map[string]any) any
	Logger  *slog.Logger
}

// SimLauncher fakes workers in-process. Each simulated worker emits
// progress lines on a cadence over a pipe, honors pause/resume/terminate
// signals, and exits with a configurable code. Spec params understood:
//
//	sim_interval_ms  tick cadence override
//	sim_steps        progress increment count override
//	exit_code        final exit code (default 0, or 1 when error is set)
//	error            message written to stderr as "ERROR: <msg>"
//	result           payload emitted as a "result:" line on clean exit
type SimLauncher struct {
	cfg     SimConfig
	nextPID atomic.Int64
}

func NewSimLauncher(cfg SimConfig) *SimLauncher {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = defaultSimInterval
	}
	if cfg.DefaultSteps <= 0 {
		cfg.DefaultSteps = defaultSimSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := &SimLauncher{cfg: cfg}
	l.nextPID.Store(simPIDBase)
	return l
}

func (l *SimLauncher) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	if !schema.ValidProcessType(spec.Type) {
		return nil, schema.NewErrorf(schema.ErrCodeSpawnFailed,
			"no simulated worker profile for process type %q", spec.Type)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	h := &simHandle{
		pid:     int(l.nextPID.Add(1)),
		stdout:  stdoutR,
		stderr:  stderrR,
		exit:    make(chan ExitStatus, 1),
		term:    make(chan struct{}),
		unpause: nil,
	}

	go l.run(ctx, spec, h, stdoutW, stderrW)

	l.cfg.Logger.InfoContext(ctx, "simulated worker spawned",
		"type", string(spec.Type), "pid", h.pid)
	return h, nil
}

// run drives one simulated worker to completion.
func (l *SimLauncher) run(ctx context.Context, spec Spec, h *simHandle, stdoutW, stderrW *io.PipeWriter) {
	interval := l.cfg.DefaultInterval
	if ms, ok := intParam(spec.Params, "sim_interval_ms"); ok && ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}
	steps := l.cfg.DefaultSteps
	if n, ok := intParam(spec.Params, "sim_steps"); ok && n > 0 {
		steps = n
	}

	finish := func(st ExitStatus) {
		stdoutW.Close()
		stderrW.Close()
		h.exit <- st
		close(h.exit)
	}

	increment := 100 / steps
	if increment < 1 {
		increment = 1
	}

	last := 0
	for p := increment; p <= 100; p += increment {
		select {
		case <-time.After(interval):
		case <-h.term:
			finish(ExitStatus{Code: 0})
			return
		case <-ctx.Done():
			finish(ExitStatus{Code: -1, Err: ctx.Err()})
			return
		}
		if !h.waitWhileRunnable() {
			finish(ExitStatus{Code: 0})
			return
		}
		fmt.Fprintf(stdoutW, "progress: %d\n", p)
		last = p
	}
	if last < 100 {
		// Steps that do not divide 100 evenly still report completion.
		fmt.Fprintln(stdoutW, "progress: 100")
	}

	code := 0
	if msg, ok := spec.Params["error"].(string); ok && msg != "" {
		fmt.Fprintf(stderrW, "ERROR: %s\n", msg)
		code = 1
	}
	if c, ok := intParam(spec.Params, "exit_code"); ok {
		code = c
	}

	if code == 0 {
		if payload := l.resultPayload(spec); payload != nil {
			if data, err := json.Marshal(payload); err == nil {
				fmt.Fprintf(stdoutW, "result: %s\n", data)
			}
		}
	}
	finish(ExitStatus{Code: code})
}

func (l *SimLauncher) resultPayload(spec Spec) any {
	if r, ok := spec.Params["result"]; ok {
		return r
	}
	if l.cfg.Results != nil {
		return l.cfg.Results(spec.Type, spec.Params)
	}
	return nil
}

// intParam reads an integer-ish param regardless of how the document was
// decoded (Go int, JSON float64, json.Number).
func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// --- simHandle ---

type simHandle struct {
	pid    int
	stdout io.ReadCloser
	stderr io.ReadCloser
	exit   chan ExitStatus

	mu       sync.Mutex
	paused   bool
	unpause  chan struct{}
	term     chan struct{}
	termOnce sync.Once
}

func (h *simHandle) PID() int { return h.pid }

func (h *simHandle) Stdout() io.ReadCloser { return h.stdout }

func (h *simHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *simHandle) Exit() <-chan ExitStatus { return h.exit }

func (h *simHandle) Signal(kind schema.SignalKind) error {
	switch kind {
	case schema.SignalTerminate:
		h.termOnce.Do(func() { close(h.term) })
		return nil
	case schema.SignalPause:
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.paused {
			h.paused = true
			h.unpause = make(chan struct{})
		}
		return nil
	case schema.SignalResume:
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.paused {
			h.paused = false
			close(h.unpause)
		}
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeUnsupported, "unknown signal kind %q", kind)
	}
}

// waitWhileRunnable blocks while the worker is paused. It reports false
// when termination arrived instead of a resume.
func (h *simHandle) waitWhileRunnable() bool {
	for {
		h.mu.Lock()
		if !h.paused {
			h.mu.Unlock()
			return true
		}
		ch := h.unpause
		h.mu.Unlock()

		select {
		case <-ch:
		case <-h.term:
			return false
		}
	}
}
