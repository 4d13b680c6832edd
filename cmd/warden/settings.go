package main

import (
	"time"

	"github.com/forensicdev/warden/internal/isolation"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/spf13/viper"
)

// settings is the resolved runtime configuration for one command
// invocation. Values come from defaults, the config file and WARDEN_*
// env vars, in that order of precedence.
type settings struct {
	MaxConcurrent         int
	Retention             time.Duration
	WorkflowRetention     bool
	PollInterval          time.Duration
	Launcher              string
	WorkerCommands        map[schema.ProcessType][]string
	WorkHoursStart        int
	WorkHoursEnd          int
	AuditDB               string
	TemplatesDir          string
	ReportsDir            string
	SampleInterval        time.Duration
	SweepSchedule         string
	StopSiblingsOnFailure bool
	VaultPassphrase       string
	VaultSalt             string
	WorkerLimits          isolation.ResourceLimits
}

// loadSettings snapshots the viper state into a settings value.
func loadSettings() settings {
	s := settings{
		MaxConcurrent:         viper.GetInt("max_concurrent"),
		Retention:             viper.GetDuration("retention"),
		WorkflowRetention:     viper.GetBool("workflow_retention_enabled"),
		PollInterval:          viper.GetDuration("poll_interval"),
		Launcher:              viper.GetString("launcher"),
		WorkHoursStart:        viper.GetInt("work_hours_start"),
		WorkHoursEnd:          viper.GetInt("work_hours_end"),
		AuditDB:               viper.GetString("audit_db"),
		TemplatesDir:          viper.GetString("templates_dir"),
		ReportsDir:            viper.GetString("reports_dir"),
		SampleInterval:        viper.GetDuration("sample_interval"),
		SweepSchedule:         viper.GetString("sweep_schedule"),
		StopSiblingsOnFailure: viper.GetBool("stop_siblings_on_failure"),
		VaultPassphrase:       viper.GetString("vault_passphrase"),
		VaultSalt:             viper.GetString("vault_salt"),
		WorkerLimits: isolation.ResourceLimits{
			MaxMemoryBytes: viper.GetInt64("worker_memory_limit_mb") * 1024 * 1024,
			MaxCPUPercent:  viper.GetInt("worker_cpu_percent"),
			Timeout:        viper.GetDuration("worker_timeout"),
			AllowNetwork:   viper.GetBool("worker_allow_network"),
			ReadOnlyPaths:  viper.GetStringSlice("worker_read_only_paths"),
			WritablePaths:  viper.GetStringSlice("worker_writable_paths"),
			DenyPaths:      viper.GetStringSlice("worker_deny_paths"),
		},
	}
	for t, argv := range viper.GetStringMapStringSlice("worker_commands") {
		if s.WorkerCommands == nil {
			s.WorkerCommands = make(map[schema.ProcessType][]string)
		}
		s.WorkerCommands[schema.ProcessType(t)] = argv
	}
	return s
}
