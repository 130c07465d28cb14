package workload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evset-io/evset"
	"github.com/evset-io/evset/fake"
	"github.com/evset-io/evset/internal/journal"
)

// Runner executes workloads. Each run gets a fresh event set and fake
// backend; runs of one Runner share its hub, so set ids stay unique
// across a whole session.
type Runner struct {
	hub         *evset.Hub
	logger      *slog.Logger
	journal     *journal.Journal
	parallelism int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithJournal makes every run record an audit trail.
func WithJournal(j *journal.Journal) Option {
	return func(r *Runner) { r.journal = j }
}

// WithParallelism caps the fake backend's concurrency for each run.
// Zero or negative means unlimited.
func WithParallelism(n int64) Option {
	return func(r *Runner) { r.parallelism = n }
}

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		hub:    evset.NewHub(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is everything one run produced.
type Result struct {
	Workload string

	// RunID is the journal run id, empty when the run was not
	// journaled.
	RunID string

	Trace    *Trace
	Inserted int
	Failed   int
	Elapsed  time.Duration
}

// ExpectationError reports waits whose results did not match the
// workload's expectations. The run itself completed; the Result next to
// this error is fully populated.
type ExpectationError struct {
	Workload   string
	Mismatches []string
}

// Error implements the error interface.
func (e *ExpectationError) Error() string {
	return fmt.Sprintf("workload %q: %d expectation mismatch(es): %s",
		e.Workload, len(e.Mismatches), strings.Join(e.Mismatches, "; "))
}

// tracked pairs a workload step with its op so state transitions can be
// observed between waits.
type tracked struct {
	label string
	op    *evset.Op
	last  evset.State
}

// Run executes one workload: ops are started and inserted in order,
// the waits run with their budgets, diagnostics are drained, and the
// set is closed. The context is honored between steps.
func (r *Runner) Run(ctx context.Context, w *Workload) (*Result, error) {
	start := time.Now()

	setID, err := r.hub.Create()
	if err != nil {
		return nil, &evset.Error{Code: evset.CodeCreationFailed, Message: "creating event set", Err: err}
	}

	var runID string
	if r.journal != nil {
		runID, err = r.journal.BeginRun(ctx, w.Name)
		if err != nil {
			return nil, &evset.Error{Code: evset.CodeCreationFailed, Message: "opening journal run", Err: err}
		}
	}
	record := func(ev journal.OpEvent) error {
		if r.journal == nil {
			return nil
		}
		ev.RunID = runID
		return r.journal.Record(ctx, ev)
	}

	backend := fake.NewBackend(fake.WithParallelism(r.parallelism))
	trace := &Trace{Workload: w.Name}
	r.logger.Info("workload started", "workload", w.Name, "ops", len(w.Ops), "waits", len(w.Waits))

	var ops []*tracked
	byLabel := make(map[string]*evset.Op, len(w.Ops))
	labelBySeq := make(map[uint64]string, len(w.Ops))

	for _, step := range w.Ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		deps := make([]*evset.Op, 0, len(step.After))
		for _, label := range step.After {
			deps = append(deps, byLabel[label])
		}

		req := backend.Start(fake.JobSpec{
			Name:     step.Label,
			Duration: step.EffectiveDuration(w.Defaults),
			Err:      step.FailureCause(),
		})
		info := evset.OpInfo{
			Op:   step.EffectiveOp(w.Defaults),
			API:  "Backend.Start",
			Args: step.Args,
			File: w.Source,
			Func: w.Name,
		}
		op, err := r.hub.Insert(setID, req, info, deps...)
		if err != nil {
			return nil, fmt.Errorf("inserting %q: %w", step.Label, err)
		}

		byLabel[step.Label] = op
		labelBySeq[op.Seq()] = step.Label
		ops = append(ops, &tracked{label: step.Label, op: op, last: evset.StatePending})
		trace.Events = append(trace.Events, TraceEvent{
			Kind:  TraceInsert,
			Label: step.Label,
			Op:    info.Op,
			Args:  step.Args,
			Seq:   op.Seq(),
		})
		r.logger.Debug("op inserted", "workload", w.Name, "label", step.Label, "seq", op.Seq())
		if err := record(journal.OpEvent{Seq: op.Seq(), Label: step.Label, Op: info.Op, Event: journal.EventInserted}); err != nil {
			return nil, err
		}
	}

	// sweep journals the state transitions observed since the last
	// wait.
	sweep := func() error {
		for _, tr := range ops {
			state := tr.op.State()
			if state == tr.last {
				continue
			}
			tr.last = state
			event := journal.EventSucceeded
			if state == evset.StateFailed {
				event = journal.EventFailed
			}
			if err := record(journal.OpEvent{Seq: tr.op.Seq(), Label: tr.label, Op: tr.op.Info().Op, Event: event}); err != nil {
				return err
			}
		}
		return nil
	}

	var mismatches []string
	for i, ws := range w.Waits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inProgress, opFailed, err := r.hub.Wait(setID, ws.Budget())
		if err != nil {
			return nil, fmt.Errorf("wait %d: %w", i, err)
		}

		timeout := "none"
		if ws.Timeout != nil {
			timeout = ws.Timeout.String()
		}
		trace.Events = append(trace.Events, TraceEvent{
			Kind:       TraceWait,
			Timeout:    timeout,
			InProgress: inProgress,
			OpFailed:   opFailed,
		})
		r.logger.Debug("wait finished", "workload", w.Name, "timeout", timeout, "in_progress", inProgress, "op_failed", opFailed)
		if err := sweep(); err != nil {
			return nil, err
		}

		if ws.Expect != nil {
			if ws.Expect.InProgress != nil && *ws.Expect.InProgress != inProgress {
				mismatches = append(mismatches, fmt.Sprintf("wait %d: in_progress = %d, want %d", i, inProgress, *ws.Expect.InProgress))
			}
			if ws.Expect.OpFailed != nil && *ws.Expect.OpFailed != opFailed {
				mismatches = append(mismatches, fmt.Sprintf("wait %d: op_failed = %v, want %v", i, opFailed, *ws.Expect.OpFailed))
			}
		}
	}

	if w.Drain > 0 {
		recs, err := r.hub.DrainErrors(setID, w.Drain)
		if err != nil {
			return nil, fmt.Errorf("draining diagnostics: %w", err)
		}
		ev := TraceEvent{Kind: TraceDrain}
		for _, rec := range recs {
			ev.Diags = append(ev.Diags, TraceDiag{Op: rec.Op, Args: rec.Args, Seq: rec.Seq, Err: errText(rec.Err)})
			if err := record(journal.OpEvent{Seq: rec.Seq, Label: labelBySeq[rec.Seq], Op: rec.Op, Event: journal.EventDrained, Error: errText(rec.Err)}); err != nil {
				return nil, err
			}
		}
		trace.Events = append(trace.Events, ev)
		r.logger.Debug("diagnostics drained", "workload", w.Name, "count", len(recs))
	}

	active, err := r.hub.Count(setID)
	if err != nil {
		return nil, err
	}
	nextSeq, err := r.hub.NextSeq(setID)
	if err != nil {
		return nil, err
	}
	errCount, err := r.hub.ErrCount(setID)
	if err != nil {
		return nil, err
	}
	hasErrors, err := r.hub.HasErrors(setID)
	if err != nil {
		return nil, err
	}
	trace.Events = append(trace.Events, TraceEvent{
		Kind:      TraceClose,
		Active:    active,
		NextSeq:   nextSeq,
		ErrCount:  errCount,
		HasErrors: hasErrors,
	})

	// Stragglers the waits never covered are driven home so the set
	// can close. Each pass stops at the first failure it observes, so
	// keep going until the set is empty.
	for active > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		active, _, err = r.hub.Wait(setID, evset.WaitForever)
		if err != nil {
			return nil, fmt.Errorf("final wait: %w", err)
		}
		if err := sweep(); err != nil {
			return nil, err
		}
	}
	if err := r.hub.Close(setID); err != nil {
		return nil, err
	}
	backend.Shutdown()

	failed := 0
	for _, tr := range ops {
		if tr.last == evset.StateFailed {
			failed++
		}
	}
	if r.journal != nil {
		if err := r.journal.FinishRun(ctx, runID, len(ops), failed); err != nil {
			return nil, err
		}
	}

	result := &Result{
		Workload: w.Name,
		RunID:    runID,
		Trace:    trace,
		Inserted: len(ops),
		Failed:   failed,
		Elapsed:  time.Since(start),
	}
	r.logger.Info("workload finished",
		"workload", w.Name,
		"inserted", result.Inserted,
		"failed", result.Failed,
		"elapsed", result.Elapsed,
	)
	if len(mismatches) > 0 {
		return result, &ExpectationError{Workload: w.Name, Mismatches: mismatches}
	}
	return result, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
