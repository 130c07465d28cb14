package evset

import (
	"sync"
	"time"
)

// EventSet tracks a group of in-flight asynchronous operations.
//
// Internally the set keeps two disjoint collections: the active list of
// operations not yet known to be terminal, in insertion order, and the
// failed queue of diagnostics for operations that finished with an
// error, in failure order. An operation is in exactly one of them, or in
// neither once it succeeded or its diagnostic was drained.
//
// The zero value is not usable; call New.
type EventSet struct {
	mu sync.Mutex

	active opList
	failed *diagQueue

	// seq counts insertions. The next inserted op is stamped with the
	// current value, which then increments; numbers are never reused.
	seq uint64

	// errOccurred latches on the first observed failure and stays set
	// even after every diagnostic has been drained.
	errOccurred bool

	closed bool
}

// New creates an empty event set.
func New() *EventSet {
	return &EventSet{failed: newDiagQueue()}
}

// Insert registers an in-flight operation with the set and returns its
// Op. info describes the call site for later diagnostics. deps, if
// given, must be ops previously inserted into the same set; Wait will
// not touch the new op until every dep has reached a terminal state.
//
// The set takes ownership of req: it will release it exactly once, when
// the operation is observed to have finished.
func (es *EventSet) Insert(req Request, info OpInfo, deps ...*Op) (*Op, error) {
	if req == nil {
		return nil, newError(CodeInvalidArgument, "nil request")
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if es.closed {
		return nil, newError(CodeInvalidHandle, "event set is closed")
	}
	for _, dep := range deps {
		if dep == nil {
			return nil, newError(CodeInvalidArgument, "nil dependency")
		}
		if dep.set != es {
			return nil, newError(CodeInvalidArgument, "dependency %q (seq %d) belongs to a different event set", dep.info.Op, dep.seq)
		}
	}

	op := &Op{
		set:        es,
		req:        req,
		info:       info,
		seq:        es.seq,
		insertedAt: time.Now(),
		state:      StatePending,
		deps:       append([]*Op(nil), deps...),
	}
	es.seq++
	es.active.pushBack(op)
	return op, nil
}

// Count reports how many operations the set is still tracking as
// active. It does not poll the backend, so operations that finished
// since the last Wait still count.
func (es *EventSet) Count() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.active.len()
}

// NextSeq returns the insertion number the next Insert will assign,
// which equals the total number of operations ever inserted. Two calls
// with an equal result have had no insert between them.
func (es *EventSet) NextSeq() uint64 {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.seq
}

// HasErrors reports whether any operation in the set has ever failed.
// The flag is sticky: draining every diagnostic does not clear it, only
// the set's whole lifetime bounds it. Only Wait observes completions, so
// a failure the set has not waited on yet is not reflected.
func (es *EventSet) HasErrors() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.errOccurred
}

// ErrCount reports the number of failed-operation diagnostics waiting to
// be drained.
func (es *EventSet) ErrCount() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.failed.len()
}

// DrainErrors removes up to max diagnostics from the failed queue,
// oldest first, and returns them. Ownership of the returned records
// passes to the caller. max must be positive; an empty queue yields an
// empty slice, and the sticky error flag is unaffected either way.
func (es *EventSet) DrainErrors(max int) ([]Diagnostic, error) {
	if max <= 0 {
		return nil, newError(CodeInvalidArgument, "max must be positive, got %d", max)
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if es.closed {
		return nil, newError(CodeInvalidHandle, "event set is closed")
	}

	var recs []Diagnostic
	for len(recs) < max {
		rec, ok := es.failed.pop()
		if !ok {
			break
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Close releases the set. It fails with CodeStillActive while any
// operation is still active; wait for them first. Diagnostics that were
// never drained are discarded with the set. Closing an already closed
// set is a no-op.
func (es *EventSet) Close() error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.closed {
		return nil
	}
	if n := es.active.len(); n > 0 {
		return newError(CodeStillActive, "%d operation(s) still active", n)
	}
	for {
		if _, ok := es.failed.pop(); !ok {
			break
		}
	}
	es.closed = true
	return nil
}

// fail moves op out of the active list and into the failed queue,
// collecting the failure cause from the request and releasing it.
// Caller holds the set's exclusion and has observed StateFailed.
func (es *EventSet) fail(op *Op) {
	op.state = StateFailed
	op.err = op.req.Err()
	op.failedAt = time.Now()

	es.active.remove(op)
	es.failed.push(Diagnostic{
		Op:         op.info.Op,
		API:        op.info.API,
		Args:       op.info.Args,
		File:       op.info.File,
		Func:       op.info.Func,
		Line:       op.info.Line,
		Seq:        op.seq,
		InsertedAt: op.insertedAt,
		FailedAt:   op.failedAt,
		Err:        op.err,
	})
	es.errOccurred = true

	op.req.Release()
	op.req = nil
}

// complete moves a successfully finished op out of the active list and
// releases its request. Caller holds the set's exclusion.
func (es *EventSet) complete(op *Op) {
	op.state = StateSucceeded
	es.active.remove(op)
	op.req.Release()
	op.req = nil
}
