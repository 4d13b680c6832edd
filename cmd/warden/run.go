package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/forensicdev/warden/internal/engine"
	"github.com/forensicdev/warden/internal/identity"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/report"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	runParams       []string
	runInvestigator string
	runCase         string
	runWriteReport  bool
	runShowMetrics  bool
	runFollowEvents bool
	runTimeout      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-type>",
	Short: "Run one investigation workflow to completion",
	Long: `Creates a workflow from the named template, starts it, waits for the
terminal state and prints the outcome. Exits non-zero when the workflow
ends failed or stopped. Parameters are visible to decision predicates
as params.<key> and fill ${params.<key>} tokens in template step
params.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "workflow parameter as key=value (repeatable)")
	runCmd.Flags().StringVar(&runInvestigator, "investigator", "", "investigator ID recorded in the audit log")
	runCmd.Flags().StringVar(&runCase, "case", "", "case ID stamped on the report written with --report")
	runCmd.Flags().BoolVar(&runWriteReport, "report", false, "write the case report when the workflow ends")
	runCmd.Flags().BoolVar(&runShowMetrics, "metrics", false, "print Prometheus metrics after the run")
	runCmd.Flags().BoolVar(&runFollowEvents, "watch", false, "stream live events to stderr while the workflow runs")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "abort the run after this duration (0 = no limit)")
}

func runRun(cmd *cobra.Command, args []string) error {
	s := loadSettings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if runTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, runTimeout)
		defer timeoutCancel()
	}

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

	if runInvestigator != "" {
		if _, err := a.identity.EnsureRegistered(ctx, runInvestigator, runInvestigator, identity.RoleAnalyst); err != nil {
			return err
		}
		ctx = logging.WithInvestigatorID(ctx, runInvestigator)
	}

	params, err := parseParams(runParams)
	if err != nil {
		return err
	}

	if runFollowEvents {
		stopFeed, err := streamEvents(ctx, a.hub)
		if err != nil {
			return err
		}
		defer stopFeed()
	}

	id, err := a.engine.Create(ctx, args[0], params)
	if err != nil {
		return err
	}
	if err := a.engine.Start(ctx, id); err != nil {
		return err
	}

	done, ok := a.engine.Watch(id)
	if !ok {
		return fmt.Errorf("workflow %s vanished before it could be watched", id)
	}
	select {
	case <-done:
	case <-ctx.Done():
		// The run context is gone; stop on a fresh one so the final
		// state still lands in the audit log.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.engine.Stop(stopCtx, id)
		stopCancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}

	status, ok := a.engine.Status(id)
	if !ok {
		return fmt.Errorf("workflow %s vanished before its status could be read", id)
	}

	if runWriteReport {
		reportCtx := ctx
		if reportCtx.Err() != nil {
			var reportCancel context.CancelFunc
			reportCtx, reportCancel = context.WithTimeout(context.Background(), 10*time.Second)
			defer reportCancel()
			if runInvestigator != "" {
				reportCtx = logging.WithInvestigatorID(reportCtx, runInvestigator)
			}
		}
		rep, written, err := a.reports.Generate(reportCtx, report.Options{CaseID: runCase}, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "report %s written to %s (sha256 %s)\n", rep.ID, written.Path, written.Digest)
	}

	printRunOutcome(a, status)

	if runShowMetrics {
		fmt.Println()
		if err := a.metrics.Render(os.Stdout); err != nil {
			return err
		}
	}

	if status.State != schema.WorkflowCompleted {
		return fmt.Errorf("workflow %s ended %s: %s", id, status.State, status.Error)
	}
	return nil
}

// printRunOutcome renders the final workflow state plus a row per
// spawned worker.
func printRunOutcome(a *app, status *engine.WorkflowStatus) {
	if jsonOutput() {
		out, err := json.MarshalIndent(status, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		}
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Workflow", status.ID)
	table.Append("Type", status.Type)
	table.Append("State", string(status.State))
	table.Append("Progress", fmt.Sprintf("%d%%", status.Progress))
	table.Append("Steps", fmt.Sprintf("%d/%d", status.StepIndex, status.StepCount))
	table.Append("Created", status.CreatedAt.Format(time.RFC3339))
	if status.EndedAt != nil {
		table.Append("Ended", status.EndedAt.Format(time.RFC3339))
	}
	if status.Error != "" {
		table.Append("Error", status.Error)
	}
	table.Render()

	if len(status.ProcessIDs) > 0 {
		fmt.Println()
		procs := tablewriter.NewWriter(os.Stdout)
		procs.Header("Process", "Type", "State", "Progress", "Runtime")
		for _, pid := range status.ProcessIDs {
			ps, ok := a.sup.Status(pid)
			if !ok {
				continue
			}
			procs.Append(ps.ID, string(ps.Type), string(ps.State),
				strconv.Itoa(ps.Progress)+"%",
				fmt.Sprintf("%.1fs", ps.RuntimeSeconds))
		}
		procs.Render()
	}
	fmt.Printf("\nWorkflow %s ended %s\n", status.ID, status.State)
}

// streamEvents tails every hub event to stderr until the returned stop
// function runs. Canceling the subscription does not close the channel,
// so the feed goroutine watches a stop signal of its own.
func streamEvents(ctx context.Context, hub streaming.Hub) (func(), error) {
	ch, cancelSub, err := hub.Subscribe(ctx, streaming.Filter{})
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case ev := <-ch:
				fmt.Fprintf(os.Stderr, "%s  %-9s %-20s %s\n",
					time.Now().Format("15:04:05"), ev.EntityKind, ev.EventType, ev.EntityID)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		cancelSub()
		close(stop)
		<-drained
	}, nil
}

// parseParams turns repeated key=value flags into workflow params.
// Values that parse as JSON keep their type; everything else stays a
// string, so --param timeout=30 is a number and --param label=disk1 a
// string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}
