package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evset-io/evset/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	RunID   string
	Label   string // optional - filter to a specific op label
}

// TraceRow represents a single event in the trace timeline.
type TraceRow struct {
	Seq   uint64 `json:"seq"`
	Event string `json:"event"`
	Label string `json:"label"`
	Op    string `json:"op"`
	At    string `json:"at"`
	Error string `json:"error,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Inserted    int `json:"inserted"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Drained     int `json:"drained"`
}

// TraceReport holds the complete trace output.
type TraceReport struct {
	RunID      string     `json:"run_id"`
	Workload   string     `json:"workload"`
	StartedAt  string     `json:"started_at"`
	FinishedAt string     `json:"finished_at,omitempty"`
	Timeline   []TraceRow `json:"timeline"`
	Stats      TraceStats `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the audit trail of a journaled run",
		Long: `Show the audit trail of a journaled workload run.

Lists every operation lifecycle event the run recorded: insertions,
completions, failures and drained diagnostics, in the order the event
set observed them. Defaults to the most recent run.

Examples:
  evset trace --journal ./evset.db
  evset trace --journal ./evset.db --run 01924b2e-...
  evset trace --journal ./evset.db --label bad-write
  evset trace --journal ./evset.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to trace (default: latest run)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "filter to a specific op label")

	return cmd
}

func runTraceReport(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	// Opening would create an empty journal; require one that exists.
	if _, err := os.Stat(opts.Journal); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Journal))
	}

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	run, err := selectRun(ctx, j, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		if opts.RunID != "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID))
		}
		if opts.Format == "json" {
			return outputTraceJSON(cmd, TraceReport{Timeline: []TraceRow{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	events, err := j.Events(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read op events", err)
	}

	report := buildTraceReport(run, events, opts.Label)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, report)
	}
	return outputTraceText(cmd, report, run, opts.Verbose)
}

// selectRun resolves the run to trace: an explicit id, or the latest.
func selectRun(ctx context.Context, j *journal.Journal, runID string) (journal.RunSummary, error) {
	if runID != "" {
		return j.Run(ctx, runID)
	}
	return j.LatestRun(ctx)
}

// buildTraceReport converts journal events to the trace timeline. When
// labelFilter is set, only events for that op label are included.
func buildTraceReport(run journal.RunSummary, events []journal.OpEvent, labelFilter string) TraceReport {
	report := TraceReport{
		RunID:     run.ID,
		Workload:  run.Workload,
		StartedAt: run.StartedAt.Format(time.RFC3339Nano),
		Timeline:  []TraceRow{},
	}
	if run.Finished() {
		report.FinishedAt = run.FinishedAt.Format(time.RFC3339Nano)
	}

	for _, ev := range events {
		if labelFilter != "" && ev.Label != labelFilter {
			continue
		}
		report.Timeline = append(report.Timeline, TraceRow{
			Seq:   ev.Seq,
			Event: ev.Event,
			Label: ev.Label,
			Op:    ev.Op,
			At:    ev.At.Format(time.RFC3339Nano),
			Error: ev.Error,
		})

		switch ev.Event {
		case journal.EventInserted:
			report.Stats.Inserted++
		case journal.EventSucceeded:
			report.Stats.Succeeded++
		case journal.EventFailed:
			report.Stats.Failed++
		case journal.EventDrained:
			report.Stats.Drained++
		}
	}
	report.Stats.TotalEvents = len(report.Timeline)

	return report
}

// outputTraceJSON outputs the trace report as JSON.
func outputTraceJSON(cmd *cobra.Command, report TraceReport) error {
	response := CLIResponse{
		Status: "ok",
		Data:   report,
		RunID:  report.RunID,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace report as text.
func outputTraceText(cmd *cobra.Command, report TraceReport, run journal.RunSummary, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Run: %s\n", report.RunID)
	fmt.Fprintf(w, "Workload: %s\n", report.Workload)
	fmt.Fprintf(w, "Status: %s\n", runStatus(run))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(report.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	} else {
		for _, row := range report.Timeline {
			fmt.Fprintf(w, "  [%d] %s %s (%s)\n", row.Seq, strings.ToUpper(row.Event), row.Label, row.Op)
			if row.Error != "" {
				fmt.Fprintf(w, "       error: %s\n", row.Error)
			}
			if verbose {
				fmt.Fprintf(w, "       at: %s\n", row.At)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", report.Stats.TotalEvents)
	fmt.Fprintf(w, "  Inserted:     %d\n", report.Stats.Inserted)
	fmt.Fprintf(w, "  Succeeded:    %d\n", report.Stats.Succeeded)
	fmt.Fprintf(w, "  Failed:       %d\n", report.Stats.Failed)
	fmt.Fprintf(w, "  Drained:      %d\n", report.Stats.Drained)

	return nil
}

// runStatus returns a human-readable run status.
func runStatus(run journal.RunSummary) string {
	if run.Finished() {
		return fmt.Sprintf("Finished (%d inserted, %d failed)", run.Inserted, run.Failed)
	}
	return "In progress"
}
