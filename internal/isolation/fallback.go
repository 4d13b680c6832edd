package isolation

import (
	"context"
	"os/exec"
	"time"
)

var _ Isolator = (*FallbackIsolator)(nil)

// FallbackIsolator runs workers without kernel confinement. Only the
// timeout is enforced; every capability reports false. Used where
// cgroups v2 is unavailable and for the sim launcher's exec twin in
// tests.
type FallbackIsolator struct{}

func NewFallbackIsolator() *FallbackIsolator {
	return &FallbackIsolator{}
}

// Wrap clones cmd onto a context-aware command so the timeout can kill
// it. The original's process attributes (process group and friends)
// carry over.
func (f *FallbackIsolator) Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if limits.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
	}

	// Cancellation is only honored for commands built through
	// exec.CommandContext, so the command is cloned rather than mutated.
	wrapped := exec.CommandContext(execCtx, cmd.Path, cmd.Args[1:]...)
	wrapped.Args = cmd.Args
	wrapped.Dir = cmd.Dir
	wrapped.Env = cmd.Env
	wrapped.Stdin = cmd.Stdin
	wrapped.Stdout = cmd.Stdout
	wrapped.Stderr = cmd.Stderr
	wrapped.SysProcAttr = cmd.SysProcAttr

	wrapped.Cancel = func() error {
		if wrapped.Process != nil {
			return wrapped.Process.Kill()
		}
		return nil
	}
	wrapped.WaitDelay = 5 * time.Second

	cleanup := func() {
		if cancel != nil {
			cancel()
		}
	}
	return wrapped, cleanup, nil
}

func (f *FallbackIsolator) Capabilities() IsolatorCaps {
	return IsolatorCaps{}
}
