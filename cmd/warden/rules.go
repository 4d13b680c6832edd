package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/forensicdev/warden/internal/rules"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var rulesFindings string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Evaluate detection rules over a findings document",
	Long: `Reads a findings JSON document holding user activity profiles and
memory artifacts, runs the detection rules over it, and prints the
alerts. The document shape matches worker results: objects (or arrays
of objects) keyed "profiles" and "artifacts", nested arbitrarily deep.
Use --findings - to read from stdin.`,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.Flags().StringVar(&rulesFindings, "findings", "-", "findings JSON file, or - for stdin")
}

func runRules(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if rulesFindings == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(rulesFindings)
	}
	if err != nil {
		return err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid findings document: %w", err)
	}
	findings := rules.Harvest(raw)

	s := loadSettings()
	evaluator := rules.NewEvaluator(rules.Config{
		WorkHoursStart: s.WorkHoursStart,
		WorkHoursEnd:   s.WorkHoursEnd,
	})
	alerts := evaluator.Evaluate(findings.Profiles, findings.Artifacts)

	if jsonOutput() {
		out, err := json.MarshalIndent(alerts, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rule", "Subject", "Message", "Timestamp")
	for _, alert := range alerts {
		ts := ""
		if !alert.Timestamp.IsZero() {
			ts = alert.Timestamp.Format(time.RFC3339)
		}
		table.Append(alert.Rule, alert.Subject, alert.Message, ts)
	}
	table.Render()
	fmt.Printf("\nTotal alerts: %d\n", len(alerts))
	return nil
}
