package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/forensicdev/warden/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	outputFormat string

	// logLevel backs every logger the CLI builds, so a config file edit
	// while serve is running retunes verbosity without a restart.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Forensic investigation pipeline orchestrator",
	Long: `warden supervises forensic worker processes (disk imaging, memory dumps,
network capture, log analysis, malware scans), drives multi-step
investigation workflows over them, evaluates detection rules against
their findings, and keeps an append-only audit log of everything that
happened to the evidence.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./warden.yaml or $HOME/.warden/warden.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig layers defaults, the optional config file and WARDEN_* env vars.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".warden"))
		}
		viper.SetConfigName("warden")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Running on defaults alone is fine; a config file the user
		// named explicitly must load.
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}

	logLevel.Set(logging.ParseLevel(viper.GetString("log_level")))
}

// setDefaults registers every config key's default value.
func setDefaults() {
	viper.SetDefault("max_concurrent", 8)
	viper.SetDefault("retention", "1h")
	viper.SetDefault("workflow_retention_enabled", true)
	viper.SetDefault("poll_interval", "1s")
	viper.SetDefault("launcher", "sim")
	viper.SetDefault("work_hours_start", 8)
	viper.SetDefault("work_hours_end", 18)
	viper.SetDefault("audit_db", "")
	viper.SetDefault("templates_dir", "")
	viper.SetDefault("reports_dir", "reports")
	viper.SetDefault("sample_interval", "15s")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("sweep_schedule", "@every 1m")
	viper.SetDefault("stop_siblings_on_failure", false)
	viper.SetDefault("worker_allow_network", true)
}

// watchLogLevel retunes the shared level when the config file changes.
// No-op when warden is running on defaults alone.
func watchLogLevel(logger *slog.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(in fsnotify.Event) {
		level := logging.ParseLevel(viper.GetString("log_level"))
		if logLevel.Level() != level {
			logLevel.Set(level)
			logger.Info("log level changed", "level", level.String(), "config", in.Name)
		}
	})
	viper.WatchConfig()
}

// jsonOutput reports whether --output selected JSON.
func jsonOutput() bool {
	return strings.EqualFold(outputFormat, "json")
}
