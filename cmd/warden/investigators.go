package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/identity"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var investigatorsCmd = &cobra.Command{
	Use:   "investigators",
	Short: "List investigators registered in the case database",
	RunE:  runInvestigators,
}

func init() {
	rootCmd.AddCommand(investigatorsCmd)
}

func runInvestigators(cmd *cobra.Command, args []string) error {
	s := loadSettings()
	if s.AuditDB == "" {
		return errors.New("investigators needs audit_db pointing at a case database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec, err := audit.NewLibSQLRecorder(auditDSN(s.AuditDB))
	if err != nil {
		return err
	}
	defer rec.Close()
	if err := rec.Migrate(ctx); err != nil {
		return err
	}

	ident := identity.NewService(rec, rec, logging.New(os.Stderr, logLevel))
	records, err := ident.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput() {
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Role", "Registered", "Last seen")
	for _, r := range records {
		lastSeen := "-"
		if r.LastSeenAt != nil {
			lastSeen = r.LastSeenAt.Format(time.RFC3339)
		}
		table.Append(r.ID, r.Name, r.Role, r.RegisteredAt.Format(time.RFC3339), lastSeen)
	}
	table.Render()
	fmt.Printf("\nTotal investigators: %d\n", len(records))
	return nil
}
