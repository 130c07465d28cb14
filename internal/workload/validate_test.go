package workload

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fieldsOf collects the Field paths of a batch of violations so tests
// can assert where an error landed without pinning CUE's message text.
func fieldsOf(errs []ValidationError) []string {
	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	return fields
}

func TestValidateTestdataWorkloads(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			errs := ValidateFile(path)
			assert.Empty(t, errs)
		})
	}
}

func TestValidateMissingName(t *testing.T) {
	errs := ValidateBytes([]byte(`
ops:
  - label: only
    op: noop.sleep
`))
	require.NotEmpty(t, errs)
	assert.Contains(t, fieldsOf(errs), "name")
}

func TestValidateBadName(t *testing.T) {
	errs := ValidateBytes([]byte(`
name: Not A Slug
ops:
  - label: only
    op: noop.sleep
`))
	require.NotEmpty(t, errs)
	assert.Contains(t, fieldsOf(errs), "name")
}

func TestValidateBadOutcome(t *testing.T) {
	errs := ValidateBytes([]byte(`
name: sample
ops:
  - label: only
    op: noop.sleep
    outcome: maybe
`))
	require.NotEmpty(t, errs)

	found := false
	for _, f := range fieldsOf(errs) {
		if f == "ops.0.outcome" {
			found = true
		}
	}
	assert.True(t, found, "expected a violation at ops.0.outcome, got %v", errs)
}

func TestValidateBadDuration(t *testing.T) {
	errs := ValidateBytes([]byte(`
name: sample
ops:
  - label: only
    op: noop.sleep
    duration: fast
`))
	require.NotEmpty(t, errs)

	found := false
	for _, f := range fieldsOf(errs) {
		if f == "ops.0.duration" {
			found = true
		}
	}
	assert.True(t, found, "expected a violation at ops.0.duration, got %v", errs)
}

func TestValidateNegativeDrain(t *testing.T) {
	errs := ValidateBytes([]byte(`
name: sample
drain: -1
ops:
  - label: only
    op: noop.sleep
`))
	require.NotEmpty(t, errs)
	assert.Contains(t, fieldsOf(errs), "drain")
}

func TestValidateEmptyOps(t *testing.T) {
	errs := ValidateBytes([]byte(`
name: sample
ops: []
`))
	require.NotEmpty(t, errs)
}

func TestValidateUnknownField(t *testing.T) {
	errs := ValidateBytes([]byte(`
name: sample
retries: 3
ops:
  - label: only
    op: noop.sleep
`))
	require.NotEmpty(t, errs)
	assert.Contains(t, fieldsOf(errs), "retries")
}

func TestValidateEmptyInput(t *testing.T) {
	for _, input := range []string{"", "# nothing here\n"} {
		errs := ValidateBytes([]byte(input))
		require.Len(t, errs, 1)
		assert.Equal(t, "empty workload", errs[0].Message)
	}
}

func TestValidateMalformedYAML(t *testing.T) {
	errs := ValidateBytes([]byte("ops: [unclosed"))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "parsing YAML")
}

func TestValidateMissingFile(t *testing.T) {
	errs := ValidateFile(filepath.Join("testdata", "does-not-exist.yaml"))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "reading file")
}

func TestValidationErrorString(t *testing.T) {
	withField := ValidationError{Field: "ops.0.label", Message: "mismatch"}
	assert.Equal(t, "ops.0.label: mismatch", withField.Error())

	bare := ValidationError{Message: "empty workload"}
	assert.Equal(t, "empty workload", bare.Error())
}
