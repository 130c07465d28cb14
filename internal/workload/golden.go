package workload

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a workload and compares its trace against the
// golden file testdata/golden/{workload.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/workload -update
//
// Workloads used with golden files should give every op a zero
// duration, so each wait observes the same states on every run.
func RunWithGolden(t *testing.T, w *Workload) error {
	t.Helper()

	runner := NewRunner(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	result, err := runner.Run(context.Background(), w)
	if err != nil {
		return err
	}
	return AssertGolden(t, w.Name, result)
}

// AssertGolden compares a finished run's trace against the golden file
// for name. Useful when the run needed a configured Runner.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
