//go:build linux

package isolation

import "log/slog"

// NewIsolator returns the strongest isolator the host supports: cgroups
// v2 when the warden subtree can be prepared, otherwise the timeout-only
// fallback.
func NewIsolator() (Isolator, error) {
	iso, err := NewLinuxIsolator()
	if err != nil {
		slog.Warn("isolation: cgroups v2 unavailable, using timeout-only fallback", "error", err)
		return NewFallbackIsolator(), nil
	}
	return iso, nil
}
