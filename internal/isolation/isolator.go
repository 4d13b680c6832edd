// Package isolation confines forensic workers. A worker handling hostile
// material gets memory and CPU ceilings, an optional kill timeout, and
// filesystem allow/deny rules so it can read evidence and write into the
// case directory but nowhere else.
package isolation

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/forensicdev/warden/pkg/schema"
)

// ResourceLimits constrains a worker process.
type ResourceLimits struct {
	MaxMemoryBytes int64         `json:"max_memory_bytes,omitempty"`
	MaxCPUPercent  int           `json:"max_cpu_percent,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	AllowNetwork   bool          `json:"allow_network"`
	ReadOnlyPaths  []string      `json:"read_only_paths,omitempty"`
	WritablePaths  []string      `json:"writable_paths,omitempty"`
	DenyPaths      []string      `json:"deny_paths,omitempty"`
}

// PathAccessMode is the kind of filesystem access being checked.
type PathAccessMode int

const (
	PathAccessRead PathAccessMode = iota
	PathAccessWrite
)

// ValidatePath checks path against the allow and deny rules. Empty allow
// lists mean unrestricted access. A deny match always wins; an unreadable
// deny rule denies too.
func (r ResourceLimits) ValidatePath(path string, mode PathAccessMode) error {
	clean, err := resolveCleanPath(path)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePathDenied, "invalid path %q: %v", path, err)
	}

	for _, deny := range r.DenyPaths {
		base, err := resolveCleanPath(deny)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodePathDenied,
				"path %q denied: unusable deny rule %q: %v", path, deny, err)
		}
		if isUnderPath(clean, base) {
			return schema.NewErrorf(schema.ErrCodePathDenied, "path %q is denied", path)
		}
	}

	hasReadOnly := len(r.ReadOnlyPaths) > 0
	hasWritable := len(r.WritablePaths) > 0
	if !hasReadOnly && !hasWritable {
		return nil
	}

	// An allow entry that cannot resolve grants nothing, so it is skipped
	// rather than failing the check.
	switch mode {
	case PathAccessWrite:
		if !hasWritable {
			return schema.NewErrorf(schema.ErrCodePathDenied,
				"write access to %q denied: no writable paths configured", path)
		}
		for _, w := range r.WritablePaths {
			base, err := resolveCleanPath(w)
			if err != nil {
				continue
			}
			if isUnderPath(clean, base) {
				return nil
			}
		}
		return schema.NewErrorf(schema.ErrCodePathDenied,
			"write access to %q denied: not under any writable path", path)

	case PathAccessRead:
		for _, ro := range r.ReadOnlyPaths {
			base, err := resolveCleanPath(ro)
			if err != nil {
				continue
			}
			if isUnderPath(clean, base) {
				return nil
			}
		}
		for _, w := range r.WritablePaths {
			base, err := resolveCleanPath(w)
			if err != nil {
				continue
			}
			if isUnderPath(clean, base) {
				return nil
			}
		}
		return schema.NewErrorf(schema.ErrCodePathDenied,
			"read access to %q denied: not under any allowed path", path)
	}

	return nil
}

// resolveCleanPath makes path absolute and resolves symlinks. Paths that
// do not exist yet resolve through their longest existing ancestor so a
// new file under a symlinked directory still compares correctly.
func resolveCleanPath(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null byte")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return resolveAncestor(abs), nil
}

func resolveAncestor(path string) string {
	dir := path
	for range 256 {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		resolved, err := filepath.EvalSymlinks(parent)
		if err == nil {
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return path
			}
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
	return path
}

// isUnderPath reports whether path equals base or sits below it. Uses
// filepath.Rel so /tmp never matches /tmpevil.
func isUnderPath(path, base string) bool {
	if path == base {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..")
}

// IsolatorCaps describes what an isolator can actually enforce on this
// platform.
type IsolatorCaps struct {
	CanLimitMemory  bool `json:"can_limit_memory"`
	CanLimitCPU     bool `json:"can_limit_cpu"`
	CanLimitNetwork bool `json:"can_limit_network"`
	CanIsolatePID   bool `json:"can_isolate_pid"`
}

// Isolator wraps a worker command with resource enforcement. The caller
// must run the returned command, not the original, and must invoke the
// cleanup function after the process finishes.
type Isolator interface {
	Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error)
	Capabilities() IsolatorCaps
}
