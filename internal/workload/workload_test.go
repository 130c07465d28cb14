package workload

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/evset-io/evset"
)

func TestLoadPopulatesWorkload(t *testing.T) {
	path := filepath.Join("testdata", "mixed-outcomes.yaml")

	w, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mixed-outcomes", w.Name)
	assert.NotEmpty(t, w.Description)
	assert.Equal(t, "object.write", w.Defaults.Op)
	assert.Equal(t, path, w.Source)
	assert.Equal(t, 8, w.Drain)

	require.Len(t, w.Ops, 3)
	assert.Equal(t, "first-write", w.Ops[0].Label)
	assert.Equal(t, "bad-write", w.Ops[1].Label)
	assert.Equal(t, OutcomeFailure, w.Ops[1].Outcome)
	assert.Equal(t, "checksum mismatch", w.Ops[1].Error)
	assert.Equal(t, "dependent-read", w.Ops[2].Label)
	assert.Equal(t, []string{"first-write"}, w.Ops[2].After)

	require.Len(t, w.Waits, 2)
	assert.Equal(t, 250*time.Millisecond, w.Waits[0].Budget())
	assert.Equal(t, evset.WaitForever, w.Waits[1].Budget())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "does-not-exist.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read workload file")
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte(`
name: sample
retries: 3
ops:
  - label: only
    op: noop.sleep
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries")
}

func TestParseDuplicateLabel(t *testing.T) {
	_, err := Parse([]byte(`
name: sample
ops:
  - label: twin
    op: noop.sleep
  - label: twin
    op: noop.sleep
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate label "twin"`)
}

func TestParseUnknownDependency(t *testing.T) {
	_, err := Parse([]byte(`
name: sample
ops:
  - label: only
    op: noop.sleep
    after: [ghost]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on unknown label "ghost"`)
}

func TestParseSelfDependency(t *testing.T) {
	_, err := Parse([]byte(`
name: sample
ops:
  - label: only
    op: noop.sleep
    after: [only]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestParseForwardDependency(t *testing.T) {
	_, err := Parse([]byte(`
name: sample
ops:
  - label: early
    op: noop.sleep
    after: [late]
  - label: late
    op: noop.sleep
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on later step "late"`)
}

func TestParseErrorWithoutFailureOutcome(t *testing.T) {
	_, err := Parse([]byte(`
name: sample
ops:
  - label: only
    op: noop.sleep
    error: boom
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error set but outcome")
}

func TestParseMissingOpName(t *testing.T) {
	_, err := Parse([]byte(`
name: sample
ops:
  - label: only
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no op name and no default")
}

func TestParseCollectsAllReferenceErrors(t *testing.T) {
	_, err := Parse([]byte(`
name: sample
ops:
  - label: first
    op: noop.sleep
    after: [ghost]
  - label: first
    op: noop.sleep
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on unknown label "ghost"`)
	assert.Contains(t, err.Error(), `duplicate label "first"`)
}

func TestParseNormalizesToNFC(t *testing.T) {
	// The YAML escapes spell the decomposed form of "café"; after
	// parsing both forms must compare equal byte for byte.
	w, err := Parse([]byte(`
name: sample
ops:
  - label: only
    op: noop.sleep
    args: "café"
    outcome: failure
    error: "café unreachable"
`))
	require.NoError(t, err)
	assert.Equal(t, "café", w.Ops[0].Args)
	assert.Equal(t, "café unreachable", w.Ops[0].Error)
}

func TestDurationUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Duration
	}{
		{name: "plain", input: "250ms", want: 250 * time.Millisecond},
		{name: "fractional", input: "1.5s", want: 1500 * time.Millisecond},
		{name: "compound", input: "1m30s", want: 90 * time.Second},
		{name: "zero", input: "0s", want: 0},
		{name: "forever", input: "forever", want: evset.WaitForever},
		{name: "none", input: "none", want: evset.WaitNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			require.NoError(t, yaml.Unmarshal([]byte(tt.input), &d))
			assert.Equal(t, tt.want, time.Duration(d))
		})
	}
}

func TestDurationUnmarshalRejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "garbage", input: "fast", wantErr: "invalid duration"},
		{name: "negative", input: "-5s", wantErr: "negative duration"},
		{name: "bare number", input: `"17"`, wantErr: "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := yaml.Unmarshal([]byte(tt.input), &d)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationString(t *testing.T) {
	assert.Equal(t, "forever", Duration(evset.WaitForever).String())
	assert.Equal(t, "none", Duration(evset.WaitNone).String())
	assert.Equal(t, "250ms", Duration(250*time.Millisecond).String())
}

func TestWaitStepBudget(t *testing.T) {
	assert.Equal(t, evset.WaitNone, WaitStep{}.Budget())

	d := Duration(time.Second)
	assert.Equal(t, time.Second, WaitStep{Timeout: &d}.Budget())

	forever := Duration(evset.WaitForever)
	assert.Equal(t, evset.WaitForever, WaitStep{Timeout: &forever}.Budget())
}

func TestOpStepDefaults(t *testing.T) {
	defaults := Defaults{Op: "object.write", Duration: Duration(10 * time.Millisecond)}

	assert.Equal(t, "object.write", OpStep{}.EffectiveOp(defaults))
	assert.Equal(t, "object.read", OpStep{Op: "object.read"}.EffectiveOp(defaults))

	assert.Equal(t, 10*time.Millisecond, OpStep{}.EffectiveDuration(defaults))
	explicit := Duration(0)
	assert.Equal(t, time.Duration(0), OpStep{Duration: &explicit}.EffectiveDuration(defaults))
}

func TestOpStepFailureCause(t *testing.T) {
	assert.NoError(t, OpStep{}.FailureCause())
	assert.NoError(t, OpStep{Outcome: OutcomeSuccess}.FailureCause())

	err := OpStep{Outcome: OutcomeFailure, Error: "disk full"}.FailureCause()
	require.Error(t, err)
	assert.Equal(t, "disk full", err.Error())

	err = OpStep{Outcome: OutcomeFailure}.FailureCause()
	require.Error(t, err)
	assert.Equal(t, "operation failed", err.Error())
}
