// Package evset tracks sets of in-flight asynchronous operations.
//
// An EventSet is the bookkeeping a caller keeps while a backend executes
// operations on its behalf: each started operation is inserted together
// with a description of its call site, and the set remembers it until it
// is known to have finished. Waiting on the set drives every tracked
// operation toward completion under a single shared timeout budget,
// successful operations disappear, and failed ones leave a Diagnostic
// behind that can be drained later, long after the call that started the
// operation has returned.
//
// The contract with the backend is the Request interface: the set only
// ever polls a request, waits on it with a bounded budget, asks a failed
// request for its error, and releases it exactly once when it is done
// with it. Any backend that can answer those four calls can be tracked;
// the fake package provides an in-memory one for tests and tooling.
//
// Sets can be used directly by pointer or registered with a Hub, which
// hands out reference-counted integer ids for callers that pass handles
// across API boundaries. Hub ids are never reused, so a stale id fails
// with an invalid-handle error instead of touching a stranger's set.
//
// All methods of an EventSet serialize on the set's own exclusion,
// including Wait for its full duration. A set is cheap; callers that want
// concurrent waits should use one set per independent stream of work
// rather than share one set between them.
package evset
