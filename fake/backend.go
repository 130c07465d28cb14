// Package fake provides an in-memory backend whose requests complete on
// a schedule the caller controls.
//
// Timed jobs settle on their own after a duration; manual jobs sit
// pending until the test drives them to a terminal state. Both produce
// requests that satisfy evset.Request, so anything that tracks real
// asynchronous work can be exercised against this backend instead.
package fake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/llxisdsh/pb"
	"golang.org/x/sync/semaphore"
)

// JobSpec describes one unit of backend work.
type JobSpec struct {
	// Name labels the job for lookups and diagnostics.
	Name string

	// Duration is how long the job runs once a worker slot is free.
	// Zero settles the job before Start returns, which keeps traces
	// deterministic.
	Duration time.Duration

	// Err, when non-nil, makes the job fail with this cause.
	Err error
}

// Backend executes fake asynchronous jobs. The zero value is not
// usable; call NewBackend.
type Backend struct {
	slots *semaphore.Weighted

	// live requests by id, dropped on release
	reqs pb.MapOf[string, *Request]

	started  atomic.Int64
	inflight atomic.Int64
	live     atomic.Int64
	wg       sync.WaitGroup
}

// Option configures a Backend.
type Option func(*Backend)

// WithParallelism caps how many timed jobs run at once; jobs beyond the
// cap queue for a slot. Zero or negative means unlimited.
func WithParallelism(n int64) Option {
	return func(b *Backend) {
		if n > 0 {
			b.slots = semaphore.NewWeighted(n)
		}
	}
}

// NewBackend creates a backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches a timed job and returns its request. A job with zero
// duration is already terminal when Start returns; anything else
// settles in the background once its duration has run.
func (b *Backend) Start(spec JobSpec) *Request {
	r := b.newRequest(spec.Name)
	if spec.Duration <= 0 {
		r.settle(spec.Err)
		return r
	}

	b.inflight.Add(1)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.inflight.Add(-1)
		if b.slots != nil {
			if err := b.slots.Acquire(context.Background(), 1); err != nil {
				r.settle(err)
				return
			}
			defer b.slots.Release(1)
		}
		time.Sleep(spec.Duration)
		r.settle(spec.Err)
	}()
	return r
}

// StartManual launches a job that stays pending until Complete, Fail or
// BreakProbe is called on its request.
func (b *Backend) StartManual(name string) *Request {
	return b.newRequest(name)
}

func (b *Backend) newRequest(name string) *Request {
	r := &Request{
		id:   uuid.Must(uuid.NewV7()).String(),
		name: name,
		b:    b,
		done: make(chan struct{}),
	}
	b.reqs.ProcessEntry(r.id, func(l *pb.EntryOf[string, *Request]) (*pb.EntryOf[string, *Request], *Request, bool) {
		return &pb.EntryOf[string, *Request]{Value: r}, r, false
	})
	b.started.Add(1)
	b.live.Add(1)
	return r
}

// Request returns the live request with the given id. Released requests
// are gone.
func (b *Backend) Request(id string) (*Request, bool) {
	return b.reqs.Load(id)
}

// Started reports how many jobs the backend has ever started.
func (b *Backend) Started() int64 {
	return b.started.Load()
}

// Inflight reports how many timed jobs have not yet settled.
func (b *Backend) Inflight() int64 {
	return b.inflight.Load()
}

// Live reports how many requests have not been released yet.
func (b *Backend) Live() int64 {
	return b.live.Load()
}

// Shutdown blocks until every timed job has settled. Manual jobs are
// the caller's to finish.
func (b *Backend) Shutdown() {
	b.wg.Wait()
}
