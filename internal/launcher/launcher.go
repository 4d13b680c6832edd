// Package launcher spawns forensic workers and exposes their lifecycle
// through a uniform handle. Two implementations exist: ExecLauncher runs
// real commands, SimLauncher fakes workers in-process for tests and demos.
package launcher

import (
	"context"
	"io"

	"github.com/forensicdev/warden/pkg/schema"
)

// Spec describes the worker to spawn.
type Spec struct {
	// Type selects the worker program (exec) or the simulated profile (sim).
	Type schema.ProcessType
	// Params are passed to the worker as a JSON document in WARDEN_PARAMS.
	Params map[string]any
	// Env is merged into the worker environment. Values may contain
	// ${{secrets.KEY}} references, resolved by the launcher before spawn.
	Env map[string]string
}

// ExitStatus is delivered exactly once on Handle.Exit when the worker ends.
type ExitStatus struct {
	// Code is the worker exit code. -1 when the worker was killed by a
	// signal or never produced a code.
	Code int
	// Err is set when waiting itself failed, not for non-zero exits.
	Err error
}

// Handle is a live worker. Stdout and Stderr deliver EOF after the worker
// exits; Exit yields the status once and stays closed afterwards.
type Handle interface {
	PID() int
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Exit() <-chan ExitStatus
	Signal(kind schema.SignalKind) error
}

// Launcher spawns workers. ctx bounds the worker's lifetime, so callers
// pass their service context rather than a request context.
type Launcher interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}

// SecretResolver resolves a ${{secrets.KEY}} reference to its value.
// Wired to the secrets vault; nil disables resolution.
type SecretResolver func(ctx context.Context, key string) (string, error)
