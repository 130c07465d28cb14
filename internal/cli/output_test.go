package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError(t *testing.T) {
	plain := NewExitError(ExitFailure, "workloads failed")
	assert.Equal(t, "workloads failed", plain.Error())
	assert.NoError(t, plain.Unwrap())

	cause := errors.New("disk full")
	wrapped := WrapExitError(ExitCommandError, "failed to open journal", cause)
	assert.Equal(t, "failed to open journal: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))

	// Non-ExitError defaults to ExitFailure.
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))

	// ExitError found through wrapping.
	inner := NewExitError(ExitCommandError, "boom")
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("outer: %w", inner)))
}

func TestFormatterSuccessText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("all good"))
	assert.Equal(t, "all good\n", buf.String())
}

func TestFormatterSuccessJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]int{"count": 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), data["count"])
}

func TestFormatterErrorText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Error(ErrCodeInvalid, "workload invalid", nil))
	assert.Contains(t, buf.String(), "Error [E003]: workload invalid")
}

func TestFormatterErrorTextVerboseDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, f.Error(ErrCodeGeneric, "boom", "ops[0] broken"))
	assert.Contains(t, buf.String(), "Details: ops[0] broken")
}

func TestFormatterErrorJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Error(ErrCodeJournal, "journal broken", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeJournal, resp.Error.Code)
	assert.Equal(t, "journal broken", resp.Error.Message)
}

func TestVerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	// Silent unless verbose.
	f := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut}
	f.VerboseLog("checking %s", "demo.yaml")
	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())

	// Verbose output goes to ErrWriter when set.
	f.Verbose = true
	f.VerboseLog("checking %s", "demo.yaml")
	assert.Empty(t, out.String())
	assert.Equal(t, "checking demo.yaml\n", errOut.String())

	// Falls back to Writer without an ErrWriter.
	f.ErrWriter = nil
	f.VerboseLog("done")
	assert.Equal(t, "done\n", out.String())
}
