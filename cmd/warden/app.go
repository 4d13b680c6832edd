package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/engine"
	"github.com/forensicdev/warden/internal/expressions"
	"github.com/forensicdev/warden/internal/identity"
	"github.com/forensicdev/warden/internal/isolation"
	"github.com/forensicdev/warden/internal/launcher"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/metrics"
	"github.com/forensicdev/warden/internal/report"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/internal/secrets"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/internal/supervisor"
	"github.com/forensicdev/warden/internal/templates"
	"github.com/forensicdev/warden/internal/validation"
	"github.com/forensicdev/warden/pkg/schema"
)

// app is the wired orchestrator stack shared by the serve, run and
// report commands.
type app struct {
	settings  settings
	logger    *slog.Logger
	metrics   *metrics.Metrics
	recorder  audit.Recorder
	hub       *streaming.MemoryHub
	sup       *supervisor.Supervisor
	engine    *engine.Engine
	registry  *templates.Registry
	engines   *expressions.Engines
	evaluator *rules.Evaluator
	identity  *identity.Service
	reports   *report.Generator
}

// buildApp wires the full stack from settings. Logs go to stderr so
// stdout stays free for MCP framing and command output.
func buildApp(ctx context.Context, s settings) (*app, error) {
	logger := logging.New(os.Stderr, logLevel)
	m := metrics.New()

	var (
		recorder audit.Recorder
		invStore audit.InvestigatorStore
		secStore secrets.Store
	)
	if s.AuditDB != "" {
		rec, err := audit.NewLibSQLRecorder(auditDSN(s.AuditDB))
		if err != nil {
			return nil, err
		}
		if err := rec.Migrate(ctx); err != nil {
			rec.Close()
			return nil, err
		}
		recorder, invStore, secStore = rec, rec, rec
	} else {
		rec := audit.NewMemoryRecorder()
		recorder, invStore, secStore = rec, rec, rec
	}

	hub := streaming.NewMemoryHub()

	var resolver launcher.SecretResolver
	if s.VaultPassphrase != "" {
		vault, err := secrets.NewAESVault(secStore, secrets.Config{
			Passphrase: s.VaultPassphrase,
			Salt:       []byte(s.VaultSalt),
		})
		if err != nil {
			return nil, err
		}
		resolver = secrets.Resolver(vault)
	}

	l, err := buildLauncher(s, resolver, logger)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(ctx, supervisor.Config{MaxConcurrent: s.MaxConcurrent}, l, recorder, hub, m, logger)

	validator, err := validation.NewDefinitionValidator()
	if err != nil {
		return nil, err
	}
	registry := templates.NewRegistry(validator.ValidateDefinition)
	if s.TemplatesDir != "" {
		n, err := registry.LoadDir(s.TemplatesDir)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			logger.Info("workflow templates loaded", "dir", s.TemplatesDir, "count", n)
		}
	}

	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, err
	}
	evaluator := rules.NewEvaluator(rules.Config{
		WorkHoursStart: s.WorkHoursStart,
		WorkHoursEnd:   s.WorkHoursEnd,
	})

	eng := engine.New(ctx, engine.Config{
		PollInterval:          s.PollInterval,
		StopSiblingsOnFailure: s.StopSiblingsOnFailure,
		Validate:              validator.ValidateDefinition,
	}, sup, registry, engines, evaluator, recorder, hub, m, logger)

	ident := identity.NewService(invStore, recorder, logger)
	reports := report.New(report.Config{Dir: s.ReportsDir}, sup, eng, recorder, engines, hub, logger)

	return &app{
		settings:  s,
		logger:    logger,
		metrics:   m,
		recorder:  recorder,
		hub:       hub,
		sup:       sup,
		engine:    eng,
		registry:  registry,
		engines:   engines,
		evaluator: evaluator,
		identity:  ident,
		reports:   reports,
	}, nil
}

// auditDSN normalizes a bare audit_db path into the file URI the libsql
// driver expects. Paths already carrying a scheme pass through.
func auditDSN(path string) string {
	if strings.Contains(path, ":") {
		return path
	}
	return "file:" + path
}

// buildLauncher selects the worker launcher named in config.
func buildLauncher(s settings, resolver launcher.SecretResolver, logger *slog.Logger) (launcher.Launcher, error) {
	switch s.Launcher {
	case "", "sim":
		return launcher.NewSimLauncher(launcher.SimConfig{Logger: logger}), nil
	case "exec":
		if len(s.WorkerCommands) == 0 {
			return nil, schema.NewError(schema.ErrCodeValidation, "launcher \"exec\" requires worker_commands in config")
		}
		iso, err := isolation.NewIsolator()
		if err != nil {
			return nil, err
		}
		return launcher.NewExecLauncher(launcher.ExecConfig{
			Commands: s.WorkerCommands,
			Limits:   s.WorkerLimits,
			Isolator: iso,
			Secrets:  resolver,
			Logger:   logger,
		}), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown launcher %q (want sim or exec)", s.Launcher)
	}
}

// close drains the stack and releases the audit recorder. Callers cancel
// the build context first so live workers wind down.
func (a *app) close() {
	a.engine.Wait()
	a.sup.Wait()
	if err := a.recorder.Close(); err != nil {
		a.logger.Warn("audit recorder close failed", "error", err)
	}
}
