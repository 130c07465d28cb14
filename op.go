package evset

import (
	"runtime"
	"time"
)

// OpInfo describes an operation and the call site that started it. The
// set stores it verbatim and copies it into the Diagnostic if the
// operation fails, so the failure can be traced back to its origin long
// after the calling frame is gone.
type OpInfo struct {
	// Op names the operation, e.g. "object.write".
	Op string

	// API names the public routine the operation was issued through,
	// e.g. "WriteAsync".
	API string

	// Args is a rendered form of the operation's arguments.
	Args string

	// File, Func and Line locate the call site.
	File string
	Func string
	Line int
}

// NewOpInfo builds an OpInfo for the caller's location. Op, api and args
// are recorded as given; file, function and line come from the calling
// frame.
func NewOpInfo(op, api, args string) OpInfo {
	info := OpInfo{Op: op, API: api, Args: args}
	if pc, file, line, ok := runtime.Caller(1); ok {
		info.File = file
		info.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			info.Func = fn.Name()
		}
	}
	return info
}

// Op tracks one asynchronous operation inserted into an event set.
//
// An Op is created by Insert and owned by its set. Callers may keep the
// pointer to name the op as a dependency of later inserts and to read
// its insertion number and state; everything else happens through the
// set.
type Op struct {
	set  *EventSet
	req  Request
	info OpInfo

	seq        uint64
	insertedAt time.Time

	state    State
	err      error
	failedAt time.Time

	deps []*Op

	// active-list links, owned by the set
	prev, next *Op
}

// Seq returns the op's insertion number: the value of the set's counter
// at the moment the op was inserted. Numbers are unique per set and
// never reused.
func (o *Op) Seq() uint64 {
	return o.seq
}

// Info returns the OpInfo recorded at insertion.
func (o *Op) Info() OpInfo {
	return o.info
}

// State reports the op's lifecycle state as of the set's last
// observation. It does not poll the backend; only Wait advances state.
func (o *Op) State() State {
	o.set.mu.Lock()
	defer o.set.mu.Unlock()
	return o.state
}

// depsSettled reports whether every dependency has reached a terminal
// state. Caller holds the set's exclusion.
func (o *Op) depsSettled() bool {
	for _, dep := range o.deps {
		if !dep.state.Terminal() {
			return false
		}
	}
	return true
}

// opList is a doubly linked list of ops in insertion order. The links
// are embedded in Op itself so removal is O(1) when an operation
// completes out of order.
type opList struct {
	head, tail *Op
	n          int
}

func (l *opList) pushBack(o *Op) {
	o.prev = l.tail
	o.next = nil
	if l.tail != nil {
		l.tail.next = o
	} else {
		l.head = o
	}
	l.tail = o
	l.n++
}

func (l *opList) remove(o *Op) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.prev = nil
	o.next = nil
	l.n--
}

func (l *opList) front() *Op {
	return l.head
}

func (l *opList) len() int {
	return l.n
}
