package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/forensicdev/warden/internal/supervisor"
	"github.com/forensicdev/warden/pkg/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP control surface on stdio",
	Long: `Wires the full orchestrator stack and serves the warden MCP tools over
stdio. MCP clients launch this as a subprocess; logs go to stderr so
stdout carries only protocol frames. Runs until stdin closes or a
SIGINT/SIGTERM arrives.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s := loadSettings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	a, err := buildApp(ctx, s)
	if err != nil {
		return err
	}
	defer a.close()

	watchLogLevel(a.logger)

	srv := mcp.NewWardenServer(mcp.WardenServerDeps{
		Supervisor: a.sup,
		Engine:     a.engine,
		Rules:      a.evaluator,
		Reports:    a.reports,
		Identity:   a.identity,
		Hub:        a.hub,
		Logger:     a.logger,
	})

	sweeper, err := supervisor.NewSweeper(s.SweepSchedule, s.Retention, a.logger, sweepTargets(a)...)
	if err != nil {
		return err
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	sampler := supervisor.NewSampler(a.sup, a.metrics, s.SampleInterval, a.logger)

	a.logger.Info("warden serving MCP on stdio",
		"launcher", s.Launcher,
		"max_concurrent", s.MaxConcurrent,
		"templates", a.registry.Count(),
		"audit_db", s.AuditDB)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sampler.Run(gctx) })
	g.Go(func() error { return srv.Notifier().Run(gctx) })
	g.Go(func() error { return srv.Serve(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("warden stopped")
	return nil
}

// sweepTargets lists the stores the retention sweeper prunes. Workflow
// pruning honors the workflow_retention_enabled switch.
func sweepTargets(a *app) []supervisor.Purger {
	targets := []supervisor.Purger{a.sup}
	if a.settings.WorkflowRetention {
		targets = append(targets, a.engine)
	}
	return targets
}
