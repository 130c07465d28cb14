package workload

import "encoding/json"

// Trace event kinds.
const (
	TraceInsert = "insert"
	TraceWait   = "wait"
	TraceDrain  = "drain"
	TraceClose  = "close"
)

// Trace is the ordered record of everything a run observed.
type Trace struct {
	Workload string
	Events   []TraceEvent
}

// TraceEvent is one observable step of a workload run. Only the fields
// belonging to the event's kind are meaningful.
type TraceEvent struct {
	Kind string

	// insert
	Label string
	Op    string
	Args  string
	Seq   uint64

	// wait
	Timeout    string
	InProgress int
	OpFailed   bool

	// drain
	Diags []TraceDiag

	// close
	Active    int
	NextSeq   uint64
	ErrCount  int
	HasErrors bool
}

// TraceDiag is the golden-stable subset of a drained diagnostic: no
// timestamps, no call-site paths.
type TraceDiag struct {
	Op   string
	Args string
	Seq  uint64
	Err  string
}

// MarshalTrace renders a trace as canonical JSON: one line, keys
// sorted, so golden comparisons are byte-stable.
func MarshalTrace(tr *Trace) ([]byte, error) {
	return json.Marshal(tr.toCanonicalMap())
}

// toCanonicalMap converts the trace to nested maps so encoding/json
// emits sorted keys and each event carries only its kind's fields.
func (tr *Trace) toCanonicalMap() map[string]any {
	events := make([]any, len(tr.Events))
	for i, ev := range tr.Events {
		events[i] = ev.toCanonicalMap()
	}
	return map[string]any{
		"workload": tr.Workload,
		"events":   events,
	}
}

func (ev TraceEvent) toCanonicalMap() map[string]any {
	m := map[string]any{"kind": ev.Kind}
	switch ev.Kind {
	case TraceInsert:
		m["label"] = ev.Label
		m["op"] = ev.Op
		m["seq"] = ev.Seq
		if ev.Args != "" {
			m["args"] = ev.Args
		}
	case TraceWait:
		m["timeout"] = ev.Timeout
		m["in_progress"] = ev.InProgress
		m["op_failed"] = ev.OpFailed
	case TraceDrain:
		diags := make([]any, len(ev.Diags))
		for i, d := range ev.Diags {
			dm := map[string]any{
				"op":    d.Op,
				"seq":   d.Seq,
				"error": d.Err,
			}
			if d.Args != "" {
				dm["args"] = d.Args
			}
			diags[i] = dm
		}
		m["count"] = len(ev.Diags)
		m["diags"] = diags
	case TraceClose:
		m["active"] = ev.Active
		m["next_seq"] = ev.NextSeq
		m["err_count"] = ev.ErrCount
		m["has_errors"] = ev.HasErrors
	}
	return m
}
