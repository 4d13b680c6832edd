package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/forensicdev/warden/internal/identity"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/report"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	reportCase         string
	reportSince        string
	reportOut          string
	reportInvestigator string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the case report",
	Long: `Assembles an investigation report (alert history, findings summary and
any live process or workflow state) and writes it as JSON. The SHA-256
digest of the written file lands in the audit log so the report can
later be checked for tampering. Point audit_db at the case database to
cover a past investigation's alerts.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportCase, "case", "", "case ID stamped on the report")
	reportCmd.Flags().StringVar(&reportSince, "since", "", "only alerts raised at or after this RFC3339 instant")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "output path (default reports_dir/report-<timestamp>.json)")
	reportCmd.Flags().StringVar(&reportInvestigator, "investigator", "", "investigator ID recorded on the report")
}

func runReport(cmd *cobra.Command, args []string) error {
	s := loadSettings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, s)
	if err != nil {
		return err
	}
	defer a.close()

	opts := report.Options{CaseID: reportCase}
	if reportSince != "" {
		ts, err := time.Parse(time.RFC3339, reportSince)
		if err != nil {
			return fmt.Errorf("invalid --since %q: %w", reportSince, err)
		}
		opts.Since = &ts
	}

	if reportInvestigator != "" {
		if _, err := a.identity.EnsureRegistered(ctx, reportInvestigator, reportInvestigator, identity.RoleAnalyst); err != nil {
			return err
		}
		ctx = logging.WithInvestigatorID(ctx, reportInvestigator)
	}

	rep, written, err := a.reports.Generate(ctx, opts, reportOut)
	if err != nil {
		return err
	}

	if jsonOutput() {
		out, err := json.MarshalIndent(map[string]any{
			"report_id": rep.ID,
			"case_id":   rep.CaseID,
			"path":      written.Path,
			"digest":    written.Digest,
			"bytes":     written.Bytes,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Report", rep.ID)
	if rep.CaseID != "" {
		table.Append("Case", rep.CaseID)
	}
	table.Append("Path", written.Path)
	table.Append("SHA-256", written.Digest)
	table.Append("Bytes", strconv.Itoa(written.Bytes))
	table.Append("Processes", strconv.Itoa(len(rep.Processes)))
	table.Append("Workflows", strconv.Itoa(len(rep.Workflows)))
	table.Append("Alerts", strconv.Itoa(len(rep.Alerts)))
	table.Render()
	return nil
}
