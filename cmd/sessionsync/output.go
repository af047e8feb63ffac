package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/sessionsync/pkg/client"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// printer renders command results in the selected format
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(cmd *cobra.Command) (*printer, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case formatTable, formatJSON, formatYAML:
	default:
		return nil, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
	return &printer{w: cmd.OutOrStdout(), format: format}, nil
}

// structured writes v as json or yaml and reports whether it did
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func (p *printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
}

func (p *printer) Summary(s *types.ReconciliationSummary) error {
	if done, err := p.structured(s); done {
		return err
	}
	tw := p.table()
	fmt.Fprintf(tw, "CYCLE\t%s\n", s.CycleID)
	fmt.Fprintf(tw, "TIME\t%s\n", formatTime(s.Timestamp))
	fmt.Fprintf(tw, "HOST\t%s\n", hostState(s.HostHealthy))
	fmt.Fprintf(tw, "MONITORED\t%d\n", s.Monitored)
	fmt.Fprintf(tw, "ORPHANS FOUND\t%d\n", s.OrphansFound)
	fmt.Fprintf(tw, "ADOPTED\t%d\n", s.Adopted)
	fmt.Fprintf(tw, "DELETED\t%d\n", s.Deleted)
	fmt.Fprintf(tw, "UPDATED\t%d\n", s.Updated)
	fmt.Fprintf(tw, "RETRIED\t%d\n", s.Retried)
	fmt.Fprintf(tw, "UNRESOLVED\t%d\n", s.Unresolved)
	fmt.Fprintf(tw, "ERRORS\t%d\n", s.Errors)
	fmt.Fprintf(tw, "INCOMPLETE\t%s\n", yesNo(s.Incomplete))
	fmt.Fprintf(tw, "DURATION\t%s\n", s.Duration.Round(time.Millisecond))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(s.Actions) == 0 {
		return nil
	}
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, "ACTIONS")
	for _, a := range s.Actions {
		fmt.Fprintf(p.w, "  - %s\n", a)
	}
	return nil
}

func (p *printer) Plan(plan *client.Plan) error {
	if done, err := p.structured(plan); done {
		return err
	}
	if !plan.HostHealthy {
		fmt.Fprintln(p.w, "Session host unreachable: the next cycle would run in degraded mode.")
		return nil
	}
	if len(plan.Entries) == 0 {
		fmt.Fprintln(p.w, "No sessions.")
		return nil
	}
	tw := p.table()
	fmt.Fprintln(tw, "KIND\tREMOTE SESSION\tRECORD\tCURRENT\tTARGET\tPHONE")
	for _, e := range plan.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Kind, dash(e.RemoteSessionID), dash(e.RecordID),
			dash(string(e.CurrentStatus)), dash(string(e.TargetStatus)), dash(e.Phone))
	}
	return tw.Flush()
}

func (p *printer) History(cycles []*types.ReconciliationSummary) error {
	if done, err := p.structured(cycles); done {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(p.w, "No reconciliation cycles recorded.")
		return nil
	}
	tw := p.table()
	fmt.Fprintln(tw, "CYCLE\tTIME\tHOST\tMONITORED\tADOPTED\tDELETED\tUPDATED\tERRORS\tINCOMPLETE")
	for _, s := range cycles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			shortID(s.CycleID), formatTime(s.Timestamp), hostState(s.HostHealthy),
			s.Monitored, s.Adopted, s.Deleted, s.Updated, s.Errors, yesNo(s.Incomplete))
	}
	return tw.Flush()
}

func (p *printer) Instances(records []*types.SessionRecord) error {
	if done, err := p.structured(records); done {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(p.w, "No instances.")
		return nil
	}
	tw := p.table()
	fmt.Fprintln(tw, "ID\tREMOTE SESSION\tOWNER\tSTATUS\tPHONE\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, dash(r.RemoteSessionID), r.OwnerID, r.Status, dash(r.Phone), formatTime(r.UpdatedAt))
	}
	return tw.Flush()
}

func (p *printer) Instance(r *types.SessionRecord) error {
	if done, err := p.structured(r); done {
		return err
	}
	tw := p.table()
	fmt.Fprintf(tw, "ID\t%s\n", r.ID)
	fmt.Fprintf(tw, "REMOTE SESSION\t%s\n", dash(r.RemoteSessionID))
	fmt.Fprintf(tw, "OWNER\t%s\n", r.OwnerID)
	fmt.Fprintf(tw, "NAME\t%s\n", dash(r.DisplayName))
	fmt.Fprintf(tw, "STATUS\t%s\n", r.Status)
	fmt.Fprintf(tw, "PHONE\t%s\n", dash(r.Phone))
	fmt.Fprintf(tw, "PROFILE\t%s\n", dash(r.ProfileName))
	fmt.Fprintf(tw, "LAST ERROR\t%s\n", dash(r.LastError))
	fmt.Fprintf(tw, "CONNECTED\t%s\n", formatTimePtr(r.ConnectedAt))
	fmt.Fprintf(tw, "DISCONNECTED\t%s\n", formatTimePtr(r.DisconnectedAt))
	fmt.Fprintf(tw, "LAST SYNCED\t%s\n", formatTimePtr(r.LastSyncedAt))
	fmt.Fprintf(tw, "CREATED\t%s\n", formatTime(r.CreatedAt))
	return tw.Flush()
}

func (p *printer) Creation(result *types.CreationResult) error {
	if done, err := p.structured(result); done {
		return err
	}
	tw := p.table()
	fmt.Fprintf(tw, "STATUS\t%s\n", result.Status)
	fmt.Fprintf(tw, "RECORD\t%s\n", result.RecordID)
	fmt.Fprintf(tw, "REMOTE SESSION\t%s\n", dash(result.RemoteSessionID))
	if result.Error != "" {
		fmt.Fprintf(tw, "ERROR\t%s\n", result.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if result.Status == types.CreationStateDBOnlyDegraded {
		fmt.Fprintf(p.w, "\nThe record was kept as degraded. Retry with: sessionsync instance retry %s\n", result.RecordID)
	}
	return nil
}

func (p *printer) Contact(c *types.Contact) error {
	if done, err := p.structured(c); done {
		return err
	}
	fmt.Fprintf(p.w, "Contact %s added for owner %s (phone %s)\n", c.ID, c.OwnerID, c.Phone)
	return nil
}

func hostState(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unreachable"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}
