package main

import (
	"context"
	"os"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/launcher"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/metrics"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/internal/supervisor"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/spf13/cobra"
)

var metricsSample bool

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print orchestrator metrics in Prometheus text format",
	Long: `Renders the warden metric families in Prometheus exposition format.
With --sample, one simulated disk-imaging worker runs to completion
first so every family carries data. Useful for checking instrument
names and scrape output.`,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.Flags().BoolVar(&metricsSample, "sample", false, "run one simulated worker before rendering")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	m := metrics.New()
	if !metricsSample {
		return m.Render(os.Stdout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := logging.NewNop()
	sim := launcher.NewSimLauncher(launcher.SimConfig{
		DefaultInterval: 5 * time.Millisecond,
		DefaultSteps:    4,
		Logger:          logger,
	})
	sup := supervisor.New(ctx, supervisor.Config{MaxConcurrent: 1}, sim,
		audit.NewMemoryRecorder(), streaming.NewMemoryHub(), m, logger)

	id, err := sup.Start(ctx, schema.ProcessDiskImaging, nil)
	if err != nil {
		return err
	}
	if done, ok := sup.Watch(id); ok {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	sup.Wait()

	return m.Render(os.Stdout)
}
