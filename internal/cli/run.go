package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/evset-io/evset/internal/journal"
	"github.com/evset-io/evset/internal/workload"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal     string
	Parallelism int64
	Jobs        int
}

// RunReport holds the result of a single workload run.
type RunReport struct {
	Workload   string   `json:"workload"`
	File       string   `json:"file"`
	RunID      string   `json:"run_id,omitempty"`
	Inserted   int      `json:"inserted"`
	Failed     int      `json:"failed"`
	ElapsedMS  int64    `json:"elapsed_ms"`
	Pass       bool     `json:"pass"`
	Mismatches []string `json:"mismatches,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// RunResult holds the overall run result.
type RunResult struct {
	Workloads []RunReport `json:"workloads"`
	Passed    int         `json:"passed"`
	Failed    int         `json:"failed"`
	Total     int         `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <workload.yaml>...",
		Short: "Run workloads against an event set",
		Long: `Run one or more workload files.

Each workload gets a fresh event set: its operations are started on the
fake backend and inserted, the scripted waits run with their budgets,
and failure diagnostics are drained. Expectations in the workload are
checked against what each wait observed.

Exit codes:
  0 - All workloads passed
  1 - One or more workloads failed
  2 - Command error (unreadable files, journal error, etc.)

Examples:
  evset run demo.yaml
  evset run --journal ./evset.db workloads/*.yaml
  evset run --jobs 4 --parallelism 8 workloads/*.yaml
  evset run demo.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkloads(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (records an audit trail)")
	cmd.Flags().Int64Var(&opts.Parallelism, "parallelism", 0, "cap on concurrent backend jobs per run (0 = unlimited)")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 1, "number of workloads to run at once")

	return cmd
}

func runWorkloads(opts *RunOptions, files []string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	// Load every workload before running any of them
	workloads := make([]*workload.Workload, 0, len(files))
	for _, file := range files {
		w, err := workload.Load(file)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load workload", err)
		}
		workloads = append(workloads, w)
	}

	runnerOpts := []workload.Option{
		workload.WithLogger(logger),
		workload.WithParallelism(opts.Parallelism),
	}
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		runnerOpts = append(runnerOpts, workload.WithJournal(j))
	}
	runner := workload.NewRunner(runnerOpts...)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	reports := make([]RunReport, len(workloads))
	for i, w := range workloads {
		g.Go(func() error {
			res, err := runner.Run(gctx, w)
			report := RunReport{Workload: w.Name, File: w.Source, Pass: true}
			if res != nil {
				report.RunID = res.RunID
				report.Inserted = res.Inserted
				report.Failed = res.Failed
				report.ElapsedMS = res.Elapsed.Milliseconds()
			}
			if err != nil {
				var ee *workload.ExpectationError
				switch {
				case errors.As(err, &ee):
					report.Pass = false
					report.Mismatches = ee.Mismatches
				case errors.Is(err, context.Canceled):
					return err
				default:
					report.Pass = false
					report.Error = err.Error()
				}
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "run interrupted", err)
	}

	result := RunResult{Workloads: reports, Total: len(reports)}
	for _, rep := range reports {
		if rep.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, result)
	}
	return outputRunText(cmd, result)
}

// outputRunJSON outputs the run result as JSON.
func outputRunJSON(cmd *cobra.Command, result RunResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}
	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    ErrCodeRunFailed,
			Message: fmt.Sprintf("%d workload(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Run failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d workload(s) failed", result.Failed))
	}
	return nil
}

// outputRunText outputs the run result as text.
func outputRunText(cmd *cobra.Command, result RunResult) error {
	w := cmd.OutOrStdout()

	for _, rep := range result.Workloads {
		if rep.Pass {
			fmt.Fprintf(w, "✓ %s (%d op(s), %d failed, %dms)\n", rep.Workload, rep.Inserted, rep.Failed, rep.ElapsedMS)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", rep.Workload)
		for _, m := range rep.Mismatches {
			fmt.Fprintf(w, "  %s\n", m)
		}
		if rep.Error != "" {
			fmt.Fprintf(w, "  %s\n", rep.Error)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Run failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d workload(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All workloads passed")
	return nil
}
