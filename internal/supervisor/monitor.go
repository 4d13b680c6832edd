package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/forensicdev/warden/internal/launcher"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/pkg/schema"
)

// monitor follows one worker to its exit. Both output streams are
// consumed line by line, then the exit status seals the record. The
// streams are drained before finalization so a result line racing the
// exit is never lost.
func (s *Supervisor) monitor(rec *processRecord, h launcher.Handle) {
	defer s.wg.Done()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.consumeStdout(rec, h)
	}()
	go func() {
		defer wg.Done()
		s.consumeStderr(rec, h)
	}()

	st := <-h.Exit()
	wg.Wait()

	ctx := logging.WithProcessID(context.WithoutCancel(s.baseCtx), rec.id)
	s.finalizeFromExit(ctx, rec, st)
}

// consumeStdout buffers worker output and interprets the progress and
// result markers embedded in it.
func (s *Supervisor) consumeStdout(rec *processRecord, h launcher.Handle) {
	sc := bufio.NewScanner(h.Stdout())
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		rec.appendLog(line)
		if rest, ok := strings.CutPrefix(line, "progress: "); ok {
			if pct, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				s.UpdateProgress(rec.id, pct)
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "result: "); ok {
			var payload map[string]any
			if err := json.Unmarshal([]byte(rest), &payload); err == nil {
				rec.mu.Lock()
				rec.result = payload
				rec.mu.Unlock()
			}
		}
	}
}

// consumeStderr records error output under an ERROR prefix. The last
// stderr line becomes part of the failure message when the worker exits
// nonzero.
func (s *Supervisor) consumeStderr(rec *processRecord, h launcher.Handle) {
	sc := bufio.NewScanner(h.Stderr())
	for sc.Scan() {
		line := sc.Text()
		msg, hadPrefix := strings.CutPrefix(line, "ERROR: ")
		if !hadPrefix {
			msg = line
			line = "ERROR: " + line
		}
		rec.appendLog(line)
		if msg = strings.TrimSpace(msg); msg != "" {
			rec.mu.Lock()
			rec.lastErrLine = msg
			rec.mu.Unlock()
		}
	}
}

// finalizeFromExit seals the record according to the worker's exit
// status. Exits requested through Stop are sealed by Stop itself, after
// cleanup finishes.
func (s *Supervisor) finalizeFromExit(ctx context.Context, rec *processRecord, st launcher.ExitStatus) {
	rec.mu.Lock()
	stopping := rec.state == schema.ProcessStopping
	lastErr := rec.lastErrLine
	rec.mu.Unlock()

	rec.appendLog(exitLogLine(st))
	if stopping {
		return
	}

	switch {
	case st.Err != nil:
		s.finalize(ctx, rec, schema.ProcessError,
			fmt.Sprintf("worker wait failed: %v", st.Err), "wait_failed")
	case st.Code == 0:
		s.finalize(ctx, rec, schema.ProcessCompleted, "", "")
	case st.Code == -1:
		s.finalize(ctx, rec, schema.ProcessError, "worker killed by signal", "signal")
	default:
		msg := fmt.Sprintf("worker exited with code %d", st.Code)
		if lastErr != "" {
			msg += ": " + lastErr
		}
		s.finalize(ctx, rec, schema.ProcessError, msg, "nonzero_exit")
	}
}

func exitLogLine(st launcher.ExitStatus) string {
	switch {
	case st.Err != nil:
		return fmt.Sprintf("worker wait failed: %v", st.Err)
	case st.Code == -1:
		return "worker killed by signal"
	default:
		return fmt.Sprintf("worker exited with code %d", st.Code)
	}
}
