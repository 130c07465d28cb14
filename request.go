package evset

import (
	"fmt"
	"math"
	"time"
)

// State describes where an asynchronous operation is in its lifecycle.
type State int

const (
	// StatePending means the backend is still executing the operation.
	StatePending State = iota

	// StateSucceeded means the operation finished without error.
	StateSucceeded

	// StateFailed means the operation finished with an error.
	StateFailed
)

// Terminal reports whether the operation has finished, successfully or not.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Wait budgets.
const (
	// WaitForever blocks until every tracked operation reaches a
	// terminal state, however long that takes.
	WaitForever = time.Duration(math.MaxInt64)

	// WaitNone polls: the state of every tracked operation is observed,
	// but nothing is blocked on.
	WaitNone time.Duration = 0
)

// Request is the contract between an event set and the backend executing
// one asynchronous operation.
//
// The set calls Poll and Wait to learn the operation's state, Err to
// collect the failure cause once a terminal StateFailed has been
// observed, and Release exactly once when it is finished with the
// request. After Release the set holds no reference to the request and
// the backend may reclaim it.
//
// The error returned by Poll and Wait reports trouble with the status
// machinery itself, not with the operation: an operation that fails is
// reported as (StateFailed, nil), and the set turns a non-nil error into
// a CodeWaitFailed failure of the whole wait.
type Request interface {
	// Poll reports the operation's current state without blocking.
	Poll() (State, error)

	// Wait blocks until the operation reaches a terminal state or the
	// budget is spent, and reports the last state it observed. A budget
	// of WaitForever blocks indefinitely; a budget <= 0 behaves like
	// Poll.
	Wait(budget time.Duration) (State, error)

	// Err returns the operation's failure cause. It is only called
	// after Poll or Wait has reported StateFailed, and ownership of the
	// returned value passes to the caller.
	Err() error

	// Release tells the backend the set is done with the request. It is
	// called exactly once, after the operation has reached a terminal
	// state or when the set discards the request.
	Release()
}
