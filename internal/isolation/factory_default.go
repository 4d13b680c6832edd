//go:build !linux

package isolation

import "log/slog"

// NewIsolator returns the timeout-only fallback; kernel confinement is
// Linux-only.
func NewIsolator() (Isolator, error) {
	slog.Warn("isolation: no kernel confinement on this platform, using timeout-only fallback")
	return NewFallbackIsolator(), nil
}
