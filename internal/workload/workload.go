// Package workload loads, validates and runs declarative workload
// files.
//
// A workload is a YAML description of asynchronous operations to start
// against the fake backend, the waits to perform on the event set
// tracking them, and the expectations to check along the way. Files are
// validated structurally against an embedded CUE schema before they are
// decoded, and every run produces a Trace that can be compared against
// a golden file or journaled for later inspection.
package workload

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/evset-io/evset"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms". The sentinels "forever" and "none" map to the event set's
// unbounded and poll-only wait budgets.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "forever":
		*d = Duration(evset.WaitForever)
	case "none":
		*d = Duration(evset.WaitNone)
	default:
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if dur < 0 {
			return fmt.Errorf("negative duration %q", s)
		}
		*d = Duration(dur)
	}
	return nil
}

// String renders the duration the way the workload file spells it.
func (d Duration) String() string {
	switch time.Duration(d) {
	case evset.WaitForever:
		return "forever"
	case evset.WaitNone:
		return "none"
	default:
		return time.Duration(d).String()
	}
}

// Workload describes one run: the ops to start, the waits to perform
// and the diagnostics to drain at the end.
type Workload struct {
	// Name uniquely identifies the workload. Lowercase words joined
	// with dashes; golden files and journal rows are keyed by it.
	Name string `yaml:"name"`

	// Description explains what the workload exercises.
	Description string `yaml:"description,omitempty"`

	// Defaults fill in per-op fields left empty.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Ops are started in order, each inserted into the event set as
	// soon as it is started.
	Ops []OpStep `yaml:"ops"`

	// Waits run after every op has been inserted.
	Waits []WaitStep `yaml:"waits,omitempty"`

	// Drain caps how many diagnostics are collected once the waits are
	// done. Zero skips draining.
	Drain int `yaml:"drain,omitempty"`

	// Source is the file the workload was loaded from. Not part of the
	// YAML; set by Load.
	Source string `yaml:"-"`
}

// Defaults fill in op fields left empty.
type Defaults struct {
	// Op is the operation name used by steps that do not name one.
	Op string `yaml:"op,omitempty"`

	// Duration is the backend duration for steps that do not carry one.
	Duration Duration `yaml:"duration,omitempty"`
}

// OpStep starts one asynchronous operation.
type OpStep struct {
	// Label names the step within the workload. Labels are unique and
	// are how later steps declare dependencies.
	Label string `yaml:"label"`

	// Op is the operation name, e.g. "object.write". Falls back to the
	// workload default.
	Op string `yaml:"op,omitempty"`

	// Args is a rendered form of the operation's arguments, recorded
	// in diagnostics verbatim.
	Args string `yaml:"args,omitempty"`

	// Duration is how long the fake backend works on the op. Zero
	// settles the op immediately, which keeps traces deterministic.
	Duration *Duration `yaml:"duration,omitempty"`

	// Outcome is "success" (default) or "failure".
	Outcome string `yaml:"outcome,omitempty"`

	// Error is the failure cause for outcome: failure.
	Error string `yaml:"error,omitempty"`

	// After lists labels of earlier steps this op depends on. The
	// event set will not wait on the op until they are all terminal.
	After []string `yaml:"after,omitempty"`
}

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// WaitStep performs one wait on the event set.
type WaitStep struct {
	// Timeout is the wait budget. "forever" and "none" name the
	// unbounded and poll-only budgets; absent means "none".
	Timeout *Duration `yaml:"timeout,omitempty"`

	// Expect, when present, is checked against the wait's results.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Budget returns the wait's budget as a time.Duration.
func (w WaitStep) Budget() time.Duration {
	if w.Timeout == nil {
		return evset.WaitNone
	}
	return time.Duration(*w.Timeout)
}

// Expect is a subset match on a wait's results: only fields that are
// present are checked.
type Expect struct {
	InProgress *int  `yaml:"in_progress,omitempty"`
	OpFailed   *bool `yaml:"op_failed,omitempty"`
}

// Load reads, validates and decodes a workload file. Structural errors
// from the CUE schema and semantic errors from the reference checks are
// all collected before the first one is returned.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload file: %w", err)
	}

	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	w.Source = path
	return w, nil
}

// Parse validates and decodes workload YAML.
func Parse(data []byte) (*Workload, error) {
	if errs := ValidateBytes(data); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid workload: %w", errors.Join(joined...))
	}

	// Strict decoding rejects unknown fields, catching typos the
	// schema's open positions let through.
	var w Workload
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	normalize(&w)
	if err := checkReferences(&w); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}
	return &w, nil
}

// normalize puts every caller-facing string into Unicode NFC so labels
// and op names compare by what they say, not how they were typed.
func normalize(w *Workload) {
	w.Name = norm.NFC.String(w.Name)
	w.Description = norm.NFC.String(w.Description)
	w.Defaults.Op = norm.NFC.String(w.Defaults.Op)
	for i := range w.Ops {
		op := &w.Ops[i]
		op.Label = norm.NFC.String(op.Label)
		op.Op = norm.NFC.String(op.Op)
		op.Args = norm.NFC.String(op.Args)
		op.Error = norm.NFC.String(op.Error)
		for j := range op.After {
			op.After[j] = norm.NFC.String(op.After[j])
		}
	}
}

// checkReferences enforces what the schema cannot: unique labels,
// dependencies that name earlier steps, and outcome/error consistency.
func checkReferences(w *Workload) error {
	var errs []error

	labels := make(map[string]int, len(w.Ops))
	for i, op := range w.Ops {
		if _, dup := labels[op.Label]; dup {
			errs = append(errs, fmt.Errorf("ops[%d]: duplicate label %q", i, op.Label))
			continue
		}
		labels[op.Label] = i
	}

	for i, op := range w.Ops {
		if op.EffectiveOp(w.Defaults) == "" {
			errs = append(errs, fmt.Errorf("ops[%d] (%s): no op name and no default", i, op.Label))
		}
		if op.Error != "" && op.Outcome != OutcomeFailure {
			errs = append(errs, fmt.Errorf("ops[%d] (%s): error set but outcome is not %q", i, op.Label, OutcomeFailure))
		}

		for _, dep := range op.After {
			at, ok := labels[dep]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("ops[%d] (%s): depends on unknown label %q", i, op.Label, dep))
			case at == i:
				errs = append(errs, fmt.Errorf("ops[%d] (%s): depends on itself", i, op.Label))
			case at > i:
				errs = append(errs, fmt.Errorf("ops[%d] (%s): depends on later step %q; dependencies must come first", i, op.Label, dep))
			}
		}
	}

	return errors.Join(errs...)
}

// EffectiveOp resolves the step's operation name against the defaults.
func (o OpStep) EffectiveOp(d Defaults) string {
	if o.Op != "" {
		return o.Op
	}
	return d.Op
}

// EffectiveDuration resolves the step's backend duration against the
// defaults.
func (o OpStep) EffectiveDuration(d Defaults) time.Duration {
	if o.Duration != nil {
		return time.Duration(*o.Duration)
	}
	return time.Duration(d.Duration)
}

// FailureCause returns the scripted failure for outcome: failure
// steps, or nil for steps that succeed.
func (o OpStep) FailureCause() error {
	if o.Outcome != OutcomeFailure {
		return nil
	}
	msg := o.Error
	if msg == "" {
		msg = "operation failed"
	}
	return errors.New(msg)
}
