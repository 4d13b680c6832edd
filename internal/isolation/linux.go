//go:build linux

package isolation

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	cgroupRoot     = "/sys/fs/cgroup"
	cgroupPrefix   = "warden"
	cgroupPeriod   = 100000 // cpu.max period in microseconds
	cleanupDelay   = 50 * time.Millisecond
	cleanupRetries = 10
)

var _ Isolator = (*LinuxIsolator)(nil)

// LinuxIsolator confines workers with cgroups v2 (memory and CPU
// ceilings) and namespaces (PID, and network when the worker is not
// allowed to talk to the network).
type LinuxIsolator struct {
	cgroupBase string
	caps       IsolatorCaps
}

// NewLinuxIsolator probes cgroups v2 and prepares the warden cgroup
// subtree. Fails when cgroups v2 is not mounted or not writable.
func NewLinuxIsolator() (*LinuxIsolator, error) {
	data, err := os.ReadFile(filepath.Join(cgroupRoot, "cgroup.controllers"))
	if err != nil {
		return nil, fmt.Errorf("cgroups v2 not available: %w", err)
	}

	available := parseControllers(string(data))
	caps := buildCaps(available)

	base := filepath.Join(cgroupRoot, cgroupPrefix)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create cgroup base %s: %w", base, err)
	}
	if err := enableControllers(base, available); err != nil {
		return nil, fmt.Errorf("enable cgroup controllers: %w", err)
	}

	return &LinuxIsolator{cgroupBase: base, caps: caps}, nil
}

func (l *LinuxIsolator) Capabilities() IsolatorCaps {
	return l.caps
}

// Wrap places the worker in a fresh per-process cgroup with the limits
// applied, entered atomically at clone time through CgroupFD.
func (l *LinuxIsolator) Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	cgPath := filepath.Join(l.cgroupBase, uuid.NewString())
	if err := os.Mkdir(cgPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create cgroup %s: %w", cgPath, err)
	}

	cgFD := -1
	success := false
	defer func() {
		if !success {
			if cgFD >= 0 {
				syscall.Close(cgFD)
			}
			removeCgroup(cgPath)
		}
	}()

	if err := l.writeLimits(cgPath, limits); err != nil {
		return nil, nil, err
	}

	var err error
	cgFD, err = syscall.Open(cgPath, syscall.O_DIRECTORY|syscall.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open cgroup fd: %w", err)
	}

	execCtx := ctx
	var timeoutCancel context.CancelFunc
	if limits.Timeout > 0 {
		execCtx, timeoutCancel = context.WithTimeout(ctx, limits.Timeout)
	}

	wrapped := exec.CommandContext(execCtx, cmd.Path, cmd.Args[1:]...)
	wrapped.Args = cmd.Args
	wrapped.Dir = cmd.Dir
	wrapped.Env = cmd.Env
	wrapped.Stdin = cmd.Stdin
	wrapped.Stdout = cmd.Stdout
	wrapped.Stderr = cmd.Stderr

	wrapped.Cancel = func() error {
		if wrapped.Process != nil {
			return wrapped.Process.Kill()
		}
		return nil
	}
	wrapped.WaitDelay = 5 * time.Second

	cloneflags := uintptr(0)
	if l.caps.CanIsolatePID {
		cloneflags |= syscall.CLONE_NEWPID
	}
	if !limits.AllowNetwork && l.caps.CanLimitNetwork {
		cloneflags |= syscall.CLONE_NEWNET
	}

	// Start from the caller's attributes so its process-group setup
	// survives the wrap, then overlay the cgroup entry.
	attr := syscall.SysProcAttr{}
	if cmd.SysProcAttr != nil {
		attr = *cmd.SysProcAttr
	}
	attr.UseCgroupFD = true
	attr.CgroupFD = cgFD
	attr.Cloneflags |= cloneflags
	wrapped.SysProcAttr = &attr

	cleanup := l.buildCleanup(cgFD, cgPath, timeoutCancel)
	success = true
	return wrapped, cleanup, nil
}

func (l *LinuxIsolator) buildCleanup(cgFD int, cgPath string, timeoutCancel context.CancelFunc) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			syscall.Close(cgFD)
			if timeoutCancel != nil {
				timeoutCancel()
			}

			// cgroup.kill takes the whole subtree down; fall back to
			// per-PID SIGKILL on kernels without it.
			killPath := filepath.Join(cgPath, "cgroup.kill")
			if err := os.WriteFile(killPath, []byte("1"), 0o644); err != nil {
				killCgroupProcesses(cgPath)
			}

			// Removal succeeds only once the cgroup has no processes.
			for range cleanupRetries {
				if err := os.Remove(cgPath); err == nil {
					return
				}
				time.Sleep(cleanupDelay)
			}
			slog.Warn("isolation: cgroup removal still failing after retries", "path", cgPath)
		})
	}
}

func (l *LinuxIsolator) writeLimits(cgPath string, limits ResourceLimits) error {
	if limits.MaxMemoryBytes > 0 && l.caps.CanLimitMemory {
		val := strconv.FormatInt(limits.MaxMemoryBytes, 10)
		if err := writeLimit(cgPath, "memory.max", val); err != nil {
			return fmt.Errorf("set memory.max: %w", err)
		}
		// With swap open the worker can spill past memory.max without
		// triggering the OOM killer.
		_ = writeLimit(cgPath, "memory.swap.max", "0")
	}

	if limits.MaxCPUPercent > 0 && l.caps.CanLimitCPU {
		if err := writeLimit(cgPath, "cpu.max", formatCPUMax(limits.MaxCPUPercent)); err != nil {
			return fmt.Errorf("set cpu.max: %w", err)
		}
	}
	return nil
}

func writeLimit(cgPath, file, value string) error {
	return os.WriteFile(filepath.Join(cgPath, file), []byte(value), 0o644)
}

// formatCPUMax converts a 1-100 percentage to the "QUOTA PERIOD" form of
// cpu.max. Out-of-range values mean no quota.
func formatCPUMax(percent int) string {
	if percent <= 0 || percent > 100 {
		return fmt.Sprintf("max %d", cgroupPeriod)
	}
	return fmt.Sprintf("%d %d", cgroupPeriod*percent/100, cgroupPeriod)
}

func removeCgroup(cgPath string) {
	killPath := filepath.Join(cgPath, "cgroup.kill")
	if err := os.WriteFile(killPath, []byte("1"), 0o644); err != nil {
		killCgroupProcesses(cgPath)
	}
	for range cleanupRetries {
		if err := os.Remove(cgPath); err == nil {
			return
		}
		time.Sleep(cleanupDelay)
	}
}

func killCgroupProcesses(cgPath string) {
	procsPath := filepath.Join(cgPath, "cgroup.procs")
	f, err := os.Open(procsPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil || pid <= 0 {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			slog.Warn("isolation: kill failed for cgroup process", "pid", pid, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("isolation: cgroup.procs read failed", "path", procsPath, "error", err)
	}
}

func parseControllers(data string) map[string]bool {
	m := make(map[string]bool)
	for _, c := range strings.Fields(strings.TrimSpace(data)) {
		m[c] = true
	}
	return m
}

func buildCaps(controllers map[string]bool) IsolatorCaps {
	return IsolatorCaps{
		CanLimitMemory:  controllers["memory"],
		CanLimitCPU:     controllers["cpu"],
		CanLimitNetwork: true, // CLONE_NEWNET needs no controller
		CanIsolatePID:   controllers["pids"],
	}
}

// enableControllers delegates the wanted controllers to child cgroups.
func enableControllers(basePath string, controllers map[string]bool) error {
	wanted := []string{"memory", "cpu", "pids"}
	var enable []string
	for _, c := range wanted {
		if controllers[c] {
			enable = append(enable, "+"+c)
		}
	}
	if len(enable) == 0 {
		return nil
	}
	controlPath := filepath.Join(basePath, "cgroup.subtree_control")
	return os.WriteFile(controlPath, []byte(strings.Join(enable, " ")), 0o644)
}
