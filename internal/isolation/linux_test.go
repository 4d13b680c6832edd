//go:build linux

package isolation

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Control File Formatting Tests ---

func TestFormatCPUMax(t *testing.T) {
	cases := []struct {
		percent int
		want    string
	}{
		{50, "50000 100000"},
		{100, "100000 100000"},
		{1, "1000 100000"},
		{0, "max 100000"},
		{150, "max 100000"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatCPUMax(tc.percent), "percent %d", tc.percent)
	}
}

func TestParseControllers(t *testing.T) {
	got := parseControllers("cpuset cpu io memory pids\n")
	assert.True(t, got["cpu"])
	assert.True(t, got["memory"])
	assert.True(t, got["pids"])
	assert.False(t, got["rdma"])

	assert.Empty(t, parseControllers("  \n"))
}

func TestBuildCaps(t *testing.T) {
	caps := buildCaps(map[string]bool{"memory": true, "pids": true})
	assert.True(t, caps.CanLimitMemory)
	assert.False(t, caps.CanLimitCPU)
	assert.True(t, caps.CanLimitNetwork, "network namespace needs no controller")
	assert.True(t, caps.CanIsolatePID)
}

func TestEnableControllers_WritesWantedSubset(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, enableControllers(base, map[string]bool{"cpu": true, "memory": true, "io": true}))

	data, err := os.ReadFile(filepath.Join(base, "cgroup.subtree_control"))
	require.NoError(t, err)
	assert.Equal(t, "+memory +cpu", string(data))
}

func TestEnableControllers_NothingAvailable(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, enableControllers(base, nil))

	_, err := os.Stat(filepath.Join(base, "cgroup.subtree_control"))
	assert.True(t, os.IsNotExist(err))
}

// --- Cgroup Lifecycle Tests ---

func requireCgroupAccess(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("cgroup lifecycle test needs root")
	}
	if _, err := os.Stat(filepath.Join(cgroupRoot, "cgroup.controllers")); err != nil {
		t.Skip("cgroups v2 not mounted")
	}
}

func TestLinuxIsolator_WrapRunsAndCleansUp(t *testing.T) {
	requireCgroupAccess(t)

	iso, err := NewLinuxIsolator()
	require.NoError(t, err)

	cmd := exec.Command("/bin/sh", "-c", "true")
	wrapped, cleanup, err := iso.Wrap(context.Background(), cmd, ResourceLimits{
		MaxMemoryBytes: 64 << 20,
		MaxCPUPercent:  50,
		AllowNetwork:   true,
	})
	require.NoError(t, err)
	require.NotNil(t, wrapped.SysProcAttr)
	assert.True(t, wrapped.SysProcAttr.UseCgroupFD)

	require.NoError(t, wrapped.Run())
	cleanup()

	entries, err := os.ReadDir(iso.cgroupBase)
	require.NoError(t, err)
	assert.Empty(t, entries, "per-process cgroup must be removed after cleanup")
}
