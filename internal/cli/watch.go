package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/evset-io/evset/internal/journal"
	"github.com/evset-io/evset/internal/workload"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Run         bool
	Journal     string
	Parallelism int64
}

// WatchEvent is one line of watch output: a workload file was checked,
// and optionally run.
type WatchEvent struct {
	File   string     `json:"file"`
	Valid  bool       `json:"valid"`
	Errors []string   `json:"errors,omitempty"`
	Run    *RunReport `json:"run,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Validate workloads as they change",
		Long: `Watch a directory of workload files and validate each one as it
changes. With --run, changed workloads that validate are also executed.

Every file is checked once at startup, then rechecked whenever it is
written or created. With --format json each check is emitted as one
JSON line.

Examples:
  evset watch ./workloads
  evset watch ./workloads --run --journal ./evset.db
  evset watch ./workloads --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Run, "run", false, "run workloads that validate")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (with --run)")
	cmd.Flags().Int64Var(&opts.Parallelism, "parallelism", 0, "cap on concurrent backend jobs per run (with --run)")

	return cmd
}

func runWatch(opts *WatchOptions, dir string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("watch directory not found: %s", dir))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to access watch directory", err)
	}
	if !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("not a directory: %s", dir))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to watch %s", dir), err)
	}

	var runner *workload.Runner
	if opts.Run {
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
		runner = workload.NewRunner(runnerOpts...)
	}

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

	check := func(path string) {
		checkWorkloadFile(ctx, opts, runner, path, cmd)
	}

	// Check everything already there before waiting for changes.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to scan watch directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isWorkloadFile(entry.Name()) {
			continue
		}
		check(filepath.Join(dir, entry.Name()))
	}

	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for workload changes.\n", dir)
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isWorkloadFile(event.Name) {
				continue
			}
			logger.Debug("file changed", "op", event.Op.String(), "file", event.Name)
			check(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch error", "error", err)
		}
	}
}

// isWorkloadFile reports whether a path looks like a workload file.
func isWorkloadFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

// checkWorkloadFile validates one file and, when a runner is
// configured, executes it. Output is one line (or one JSON object) per
// check.
func checkWorkloadFile(ctx context.Context, opts *WatchOptions, runner *workload.Runner, path string, cmd *cobra.Command) {
	w := cmd.OutOrStdout()
	ev := WatchEvent{File: path, Valid: true}

	data, err := os.ReadFile(path)
	if err != nil {
		ev.Valid = false
		ev.Errors = []string{fmt.Sprintf("reading file: %v", err)}
		emitWatchEvent(opts, w, ev)
		return
	}
	for _, verr := range validateWorkload(data) {
		ev.Valid = false
		ev.Errors = append(ev.Errors, verr.Error())
	}

	if ev.Valid && runner != nil {
		ev.Run = runWatchedWorkload(ctx, runner, path)
	}

	emitWatchEvent(opts, w, ev)
}

// runWatchedWorkload executes one file and folds the outcome into a
// RunReport, mismatches and hard errors included.
func runWatchedWorkload(ctx context.Context, runner *workload.Runner, path string) *RunReport {
	report := &RunReport{File: path, Pass: true}

	wl, err := workload.Load(path)
	if err != nil {
		report.Pass = false
		report.Error = err.Error()
		return report
	}
	report.Workload = wl.Name

	res, err := runner.Run(ctx, wl)
	if res != nil {
		report.RunID = res.RunID
		report.Inserted = res.Inserted
		report.Failed = res.Failed
		report.ElapsedMS = res.Elapsed.Milliseconds()
	}
	if err != nil {
		var ee *workload.ExpectationError
		if errors.As(err, &ee) {
			report.Pass = false
			report.Mismatches = ee.Mismatches
		} else {
			report.Pass = false
			report.Error = err.Error()
		}
	}
	return report
}

// emitWatchEvent prints one check result: a JSON line or a few text
// lines.
func emitWatchEvent(opts *WatchOptions, w interface{ Write([]byte) (int, error) }, ev WatchEvent) {
	if opts.Format == "json" {
		_ = json.NewEncoder(w).Encode(ev)
		return
	}

	if !ev.Valid {
		fmt.Fprintf(w, "✗ %s\n", ev.File)
		for _, e := range ev.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return
	}
	if ev.Run == nil {
		fmt.Fprintf(w, "✓ %s\n", ev.File)
		return
	}
	if ev.Run.Pass {
		fmt.Fprintf(w, "✓ %s (%d op(s), %d failed, %dms)\n", ev.File, ev.Run.Inserted, ev.Run.Failed, ev.Run.ElapsedMS)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", ev.File)
	for _, m := range ev.Run.Mismatches {
		fmt.Fprintf(w, "  %s\n", m)
	}
	if ev.Run.Error != "" {
		fmt.Fprintf(w, "  %s\n", ev.Run.Error)
	}
}
