package workload

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoldenWorkloads(t *testing.T) {
	// Every workload here gives its ops a zero duration, so the traces
	// are identical from run to run.
	for _, name := range []string{"mixed-outcomes", "all-clear", "failure-cascade"} {
		t.Run(name, func(t *testing.T) {
			w, err := Load(filepath.Join("testdata", name+".yaml"))
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, w))
		})
	}
}

func TestMarshalTraceCanonical(t *testing.T) {
	tr := &Trace{
		Workload: "sample",
		Events: []TraceEvent{
			{Kind: TraceInsert, Label: "a", Op: "noop", Seq: 0},
			{Kind: TraceInsert, Label: "b", Op: "noop", Args: "k=v", Seq: 1},
			{Kind: TraceWait, Timeout: "none", InProgress: 2},
			{Kind: TraceDrain},
			{Kind: TraceClose, NextSeq: 2},
		},
	}

	data, err := MarshalTrace(tr)
	require.NoError(t, err)
	assert.Equal(t,
		`{"events":[`+
			`{"kind":"insert","label":"a","op":"noop","seq":0},`+
			`{"args":"k=v","kind":"insert","label":"b","op":"noop","seq":1},`+
			`{"in_progress":2,"kind":"wait","op_failed":false,"timeout":"none"},`+
			`{"count":0,"diags":[],"kind":"drain"},`+
			`{"active":0,"err_count":0,"has_errors":false,"kind":"close","next_seq":2}`+
			`],"workload":"sample"}`,
		string(data))

	again, err := MarshalTrace(tr)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}
