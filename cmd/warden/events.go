package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	eventsKind  string
	eventsID    string
	eventsType  string
	eventsSince string
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query the case audit log",
	Long: `Queries the append-only audit log in the configured case database.
Filter by entity (--kind with --id) to follow one process or workflow
in sequence order, or by event type (--type, newest first) to see e.g.
every alert_raised across the case.`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsKind, "kind", "", "entity kind (process, workflow, rule, report, investigator)")
	eventsCmd.Flags().StringVar(&eventsID, "id", "", "entity ID")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "event type (e.g. alert_raised, process_failed)")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "only events at or after this RFC3339 instant (with --type)")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum events to print (with --type)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	s := loadSettings()
	if s.AuditDB == "" {
		return errors.New("events needs audit_db pointing at a case database")
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

	var events []*audit.Event
	switch {
	case eventsType != "":
		filter := audit.Filter{EntityKind: eventsKind, EntityID: eventsID, Limit: eventsLimit}
		if eventsSince != "" {
			ts, err := time.Parse(time.RFC3339, eventsSince)
			if err != nil {
				return fmt.Errorf("invalid --since %q: %w", eventsSince, err)
			}
			filter.Since = &ts
		}
		events, err = rec.EventsByType(ctx, eventsType, filter)
	case eventsKind != "" && eventsID != "":
		events, err = rec.Events(ctx, eventsKind, eventsID, 0)
	default:
		return errors.New("pass --type, or both --kind and --id")
	}
	if err != nil {
		return err
	}

	if jsonOutput() {
		out, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Seq", "Timestamp", "Entity", "Event", "Investigator")
	for _, ev := range events {
		table.Append(strconv.FormatInt(ev.Sequence, 10),
			ev.Timestamp.Format(time.RFC3339),
			ev.EntityKind+"/"+ev.EntityID,
			ev.Type,
			ev.InvestigatorID)
	}
	table.Render()
	fmt.Printf("\nTotal events: %d\n", len(events))
	return nil
}
