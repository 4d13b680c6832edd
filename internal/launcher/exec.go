package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/forensicdev/warden/internal/isolation"
	"github.com/forensicdev/warden/pkg/schema"
)

// ExecConfig configures the real-command launcher.
type ExecConfig struct {
	// Commands maps each process type to the argv that runs it.
	Commands map[schema.ProcessType][]string
	// Limits are applied to every worker through the isolator. The
	// filesystem rules additionally gate the target_path and output_path
	// worker params before spawn.
	Limits isolation.ResourceLimits
	// Isolator wraps commands with resource enforcement. Defaults to
	// FallbackIsolator when nil.
	Isolator isolation.Isolator
	// Secrets resolves ${{secrets.KEY}} references in Spec.Env values.
	Secrets SecretResolver
	Logger  *slog.Logger
}

// ExecLauncher spawns workers as real OS processes. Each worker runs in
// its own process group so terminate signals reach its children too.
type ExecLauncher struct {
	cfg ExecConfig
}

func NewExecLauncher(cfg ExecConfig) *ExecLauncher {
	if cfg.Isolator == nil {
		cfg.Isolator = &isolation.FallbackIsolator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ExecLauncher{cfg: cfg}
}

func (l *ExecLauncher) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	argv, ok := l.cfg.Commands[spec.Type]
	if !ok || len(argv) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeSpawnFailed,
			"no worker command configured for process type %q", spec.Type)
	}

	if err := l.checkPathParams(spec); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	env, err := l.buildEnv(ctx, spec)
	if err != nil {
		return nil, err
	}
	cmd.Env = env

	limits := l.cfg.Limits
	wrapped, cleanup, err := l.cfg.Isolator.Wrap(ctx, cmd, limits)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSpawnFailed,
			"isolation wrap failed for %q: %v", spec.Type, err).WithCause(err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	wrapped.Stdout = stdoutW
	wrapped.Stderr = stderrW

	if err := wrapped.Start(); err != nil {
		cleanup()
		stdoutW.Close()
		stderrW.Close()
		return nil, schema.NewErrorf(schema.ErrCodeSpawnFailed,
			"failed to start worker for %q: %v", spec.Type, err).WithCause(err)
	}

	h := &execHandle{
		pid:    wrapped.Process.Pid,
		stdout: stdoutR,
		stderr: stderrR,
		exit:   make(chan ExitStatus, 1),
		cmd:    wrapped,
	}

	go func() {
		waitErr := wrapped.Wait()
		// Close the write ends first so line scanners see EOF before
		// the exit status is observed.
		stdoutW.Close()
		stderrW.Close()
		cleanup()

		st := ExitStatus{Code: 0}
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				st.Code = exitErr.ExitCode()
			} else {
				st.Code = -1
				st.Err = waitErr
			}
		}
		h.exit <- st
		close(h.exit)
	}()

	l.cfg.Logger.InfoContext(ctx, "worker spawned",
		"type", string(spec.Type), "pid", h.pid, "command", argv[0])
	return h, nil
}

// checkPathParams enforces the filesystem rules on the path-typed worker
// params: target_path is read (the evidence source), output_path is
// written (image, dump, or capture destination).
func (l *ExecLauncher) checkPathParams(spec Spec) error {
	if target, ok := spec.Params["target_path"].(string); ok && target != "" {
		if err := l.cfg.Limits.ValidatePath(target, isolation.PathAccessRead); err != nil {
			return err
		}
	}
	if output, ok := spec.Params["output_path"].(string); ok && output != "" {
		if err := l.cfg.Limits.ValidatePath(output, isolation.PathAccessWrite); err != nil {
			return err
		}
	}
	return nil
}

// buildEnv merges the parent environment, resolved Spec.Env entries, and
// the params document. Secret references resolve to their values here and
// are never logged.
func (l *ExecLauncher) buildEnv(ctx context.Context, spec Spec) ([]string, error) {
	env := os.Environ()
	env = append(env, "WARDEN_PROCESS_TYPE="+string(spec.Type))

	if len(spec.Params) > 0 {
		data, err := json.Marshal(spec.Params)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSpawnFailed,
				"failed to encode worker params: %v", err).WithCause(err)
		}
		env = append(env, "WARDEN_PARAMS="+string(data))
	}

	for k, v := range spec.Env {
		resolved, err := l.resolveSecrets(ctx, v)
		if err != nil {
			return nil, err
		}
		env = append(env, k+"="+resolved)
	}
	return env, nil
}

// resolveSecrets replaces every ${{secrets.KEY}} token in v. Non-secret
// tokens pass through untouched.
func (l *ExecLauncher) resolveSecrets(ctx context.Context, v string) (string, error) {
	var result strings.Builder
	result.Grow(len(v))

	for len(v) > 0 {
		idx := strings.Index(v, "${{")
		if idx == -1 {
			result.WriteString(v)
			break
		}
		result.WriteString(v[:idx])
		rest := v[idx+3:]

		end := strings.Index(rest, "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeSecret, "unclosed ${{ reference in worker env")
		}
		expr := strings.TrimSpace(rest[:end])

		key, isSecret := strings.CutPrefix(expr, "secrets.")
		if !isSecret {
			result.WriteString(v[idx : idx+3+end+2])
			v = rest[end+2:]
			continue
		}
		if key == "" {
			return "", schema.NewError(schema.ErrCodeSecret,
				"invalid secret reference: expected ${{secrets.<KEY>}}")
		}
		if l.cfg.Secrets == nil {
			return "", schema.NewErrorf(schema.ErrCodeSecret,
				"cannot resolve secret %q: no vault configured", key)
		}
		val, err := l.cfg.Secrets(ctx, key)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeSecret,
				"failed to resolve secret %q", key).WithCause(err)
		}
		result.WriteString(val)
		v = rest[end+2:]
	}
	return result.String(), nil
}

// --- execHandle ---

type execHandle struct {
	pid    int
	stdout io.ReadCloser
	stderr io.ReadCloser
	exit   chan ExitStatus
	cmd    *exec.Cmd
	sigMu  sync.Mutex
}

func (h *execHandle) PID() int { return h.pid }

func (h *execHandle) Stdout() io.ReadCloser { return h.stdout }

func (h *execHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *execHandle) Exit() <-chan ExitStatus { return h.exit }

func (h *execHandle) Signal(kind schema.SignalKind) error {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()

	switch kind {
	case schema.SignalTerminate:
		// Signal the whole process group so worker children die too.
		if pgid, err := syscall.Getpgid(h.pid); err == nil {
			return syscall.Kill(-pgid, syscall.SIGTERM)
		}
		return h.cmd.Process.Signal(syscall.SIGTERM)
	case schema.SignalPause:
		return syscall.Kill(h.pid, syscall.SIGSTOP)
	case schema.SignalResume:
		return syscall.Kill(h.pid, syscall.SIGCONT)
	default:
		return schema.NewErrorf(schema.ErrCodeUnsupported, "unknown signal kind %q", kind)
	}
}
