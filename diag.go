package evset

import (
	"time"

	"github.com/eapache/queue"
)

// Diagnostic is the durable record of one failed operation. Records
// accumulate inside the set in failure order and are handed out, oldest
// first, by DrainErrors. Ownership of a drained record, including its
// Err value, passes to the caller; the set keeps nothing behind.
type Diagnostic struct {
	// Op, API, Args, File, Func and Line are copied from the OpInfo the
	// operation was inserted with.
	Op   string
	API  string
	Args string
	File string
	Func string
	Line int

	// Seq is the failed op's insertion number.
	Seq uint64

	// InsertedAt and FailedAt bracket the operation's lifetime as seen
	// by the set: insertion time and the time the failure was observed.
	InsertedAt time.Time
	FailedAt   time.Time

	// Err is the failure cause collected from the backend.
	Err error
}

// diagQueue holds diagnostics in failure order. Backed by a ring buffer
// so drains pop from the front without shifting the remainder.
type diagQueue struct {
	q *queue.Queue
}

func newDiagQueue() *diagQueue {
	return &diagQueue{q: queue.New()}
}

func (d *diagQueue) push(rec Diagnostic) {
	d.q.Add(rec)
}

func (d *diagQueue) pop() (Diagnostic, bool) {
	if d.q.Length() == 0 {
		return Diagnostic{}, false
	}
	return d.q.Remove().(Diagnostic), true
}

func (d *diagQueue) len() int {
	return d.q.Length()
}
