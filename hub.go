package evset

import (
	"errors"
	"time"

	"github.com/evset-io/evset/internal/registry"
)

// SetID names an event set registered with a Hub. Ids are positive and
// never reused; the zero SetID is always invalid.
type SetID int64

const setKind = registry.Kind("event_set")

// Hub hands out reference-counted integer ids for event sets, for
// callers that pass handles across API boundaries instead of sharing
// pointers. Every set operation is mirrored on the Hub, keyed by id; a
// closed or never-issued id fails with CodeInvalidHandle.
type Hub struct {
	table *registry.Table
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{table: registry.NewTable()}
}

// Create registers a fresh event set and returns its id. The caller
// holds the one reference; Close releases it.
func (h *Hub) Create() (SetID, error) {
	es := New()
	id := h.table.Register(setKind, es, es.Close)
	return SetID(id), nil
}

// EventSet resolves id to its set. The set stays owned by the hub;
// resolving does not add a reference.
func (h *Hub) EventSet(id SetID) (*EventSet, error) {
	obj, err := h.table.Resolve(registry.ID(id), setKind)
	if err != nil {
		return nil, handleError(id, err)
	}
	return obj.(*EventSet), nil
}

// Insert registers an in-flight operation with the set named by id.
func (h *Hub) Insert(id SetID, req Request, info OpInfo, deps ...*Op) (*Op, error) {
	es, err := h.EventSet(id)
	if err != nil {
		return nil, err
	}
	return es.Insert(req, info, deps...)
}

// Count reports the active-operation count of the set named by id.
func (h *Hub) Count(id SetID) (int, error) {
	es, err := h.EventSet(id)
	if err != nil {
		return 0, err
	}
	return es.Count(), nil
}

// NextSeq reports the next insertion number of the set named by id.
func (h *Hub) NextSeq(id SetID) (uint64, error) {
	es, err := h.EventSet(id)
	if err != nil {
		return 0, err
	}
	return es.NextSeq(), nil
}

// Wait waits on the set named by id. See EventSet.Wait.
func (h *Hub) Wait(id SetID, timeout time.Duration) (int, bool, error) {
	es, err := h.EventSet(id)
	if err != nil {
		return 0, false, err
	}
	return es.Wait(timeout)
}

// HasErrors reports the sticky error flag of the set named by id.
func (h *Hub) HasErrors(id SetID) (bool, error) {
	es, err := h.EventSet(id)
	if err != nil {
		return false, err
	}
	return es.HasErrors(), nil
}

// ErrCount reports the undrained diagnostic count of the set named by id.
func (h *Hub) ErrCount(id SetID) (int, error) {
	es, err := h.EventSet(id)
	if err != nil {
		return 0, err
	}
	return es.ErrCount(), nil
}

// DrainErrors drains diagnostics from the set named by id. See
// EventSet.DrainErrors.
func (h *Hub) DrainErrors(id SetID, max int) ([]Diagnostic, error) {
	es, err := h.EventSet(id)
	if err != nil {
		return nil, err
	}
	return es.DrainErrors(max)
}

// Retain adds a reference to id and returns the new count, so a second
// owner can hold the set open across its own lifetime. Each Retain
// needs a matching Close.
func (h *Hub) Retain(id SetID) (int, error) {
	refs, err := h.table.Ref(registry.ID(id))
	if err != nil {
		return 0, handleError(id, err)
	}
	return refs, nil
}

// Close drops one reference to id. The last Close closes the set
// itself; if operations are still active that fails with
// CodeStillActive and the id stays valid, so the caller can wait and
// retry.
func (h *Hub) Close(id SetID) error {
	_, err := h.table.Release(registry.ID(id))
	if err != nil {
		return handleError(id, err)
	}
	return nil
}

// Len reports the number of live event sets.
func (h *Hub) Len() int {
	return h.table.Len()
}

// handleError converts registry lookup failures into the event set
// error taxonomy, passing set errors (already coded) through untouched.
func handleError(id SetID, err error) error {
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrWrongKind) {
		return wrapError(CodeInvalidHandle, err, "event set %d", id)
	}
	return err
}
