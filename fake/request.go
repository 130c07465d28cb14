package fake

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/evset-io/evset"
)

// Request is the handle a Backend returns for one job. It satisfies
// evset.Request; the extra methods drive manual jobs and let tests
// observe the backend side of the contract.
type Request struct {
	id   string
	name string
	b    *Backend

	mu       sync.Mutex
	state    evset.State
	err      error
	probeErr error
	done     chan struct{}

	released atomic.Bool
}

// ID returns the request's backend id.
func (r *Request) ID() string {
	return r.id
}

// Name returns the job name the request was started with.
func (r *Request) Name() string {
	return r.name
}

// Poll reports the job's current state without blocking.
func (r *Request) Poll() (evset.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probeErr != nil {
		return evset.StatePending, r.probeErr
	}
	return r.state, nil
}

// Wait blocks until the job settles or the budget runs out, then
// reports the state it observed.
func (r *Request) Wait(budget time.Duration) (evset.State, error) {
	r.mu.Lock()
	if r.probeErr != nil {
		err := r.probeErr
		r.mu.Unlock()
		return evset.StatePending, err
	}
	if r.state.Terminal() || budget <= 0 {
		state := r.state
		r.mu.Unlock()
		return state, nil
	}
	done := r.done
	r.mu.Unlock()

	if budget == evset.WaitForever {
		<-done
	} else {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		}
	}
	return r.Poll()
}

// Err returns the job's failure cause once it has settled failed.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Release drops the backend's record of the request. Further calls are
// no-ops.
func (r *Request) Release() {
	if r.released.Swap(true) {
		return
	}
	r.b.live.Add(-1)
	r.b.reqs.Delete(r.id)
}

// Released reports whether Release has been called.
func (r *Request) Released() bool {
	return r.released.Load()
}

// Complete settles a manual job successfully.
func (r *Request) Complete() {
	r.settle(nil)
}

// Fail settles a manual job with the given cause.
func (r *Request) Fail(cause error) {
	r.settle(cause)
}

// BreakProbe makes every later Poll and Wait fail with err, as if the
// status channel to the backend broke. The job itself stays wherever it
// was.
func (r *Request) BreakProbe(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeErr = err
}

// settle drives the job to a terminal state. Settling twice is a no-op,
// so a timed job and a manual call cannot double-close done.
func (r *Request) settle(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	if cause != nil {
		r.state = evset.StateFailed
		r.err = cause
	} else {
		r.state = evset.StateSucceeded
	}
	close(r.done)
}
