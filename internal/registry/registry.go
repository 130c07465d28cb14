// Package registry implements a reference-counted table of kind-tagged
// handles.
//
// Objects that cross an API boundary by id rather than by pointer are
// registered here. Each entry carries a kind tag so an id minted for one
// family of objects cannot be resolved as another, a reference count so
// several owners can share one object, and a close function that tears the
// object down when the last reference is released.
//
// Ids are allocated from a monotonic counter and never reused, so a stale
// id held after release resolves to nothing instead of to a stranger.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ID names a registered object. The zero ID is never allocated and always
// fails to resolve.
type ID int64

// Kind tags a family of registered objects.
type Kind string

// CloseFunc tears down a registered object once its last reference is
// released. A non-nil error vetoes the release: the entry stays registered
// and the reference count is restored.
type CloseFunc func() error

var (
	// ErrNotFound reports an id with no live entry.
	ErrNotFound = errors.New("registry: id not found")

	// ErrWrongKind reports an id whose entry belongs to a different kind
	// than the caller asked for.
	ErrWrongKind = errors.New("registry: wrong kind")
)

type entry struct {
	kind    Kind
	obj     any
	refs    int
	closeFn CloseFunc
}

// Table is a reference-counted handle table, safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	next    ID
	entries map[ID]*entry
}

// NewTable creates an empty table. Ids start at 1.
func NewTable() *Table {
	return &Table{
		next:    1,
		entries: make(map[ID]*entry),
	}
}

// Register adds obj under a fresh id with a reference count of one.
// closeFn may be nil if the object needs no teardown.
func (t *Table) Register(kind Kind, obj any, closeFn CloseFunc) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.next
	t.next++
	t.entries[id] = &entry{
		kind:    kind,
		obj:     obj,
		refs:    1,
		closeFn: closeFn,
	}
	return id
}

// Resolve returns the object registered under id, checking its kind tag.
// Resolving does not add a reference.
func (t *Table) Resolve(id ID, kind Kind) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if e.kind != kind {
		return nil, fmt.Errorf("%w: id %d is %q, not %q", ErrWrongKind, id, e.kind, kind)
	}
	return e.obj, nil
}

// Kind reports the kind tag of a live entry.
func (t *Table) Kind(id ID) (Kind, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e.kind, nil
}

// Ref adds a reference to id and returns the new count.
func (t *Table) Ref(id ID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	e.refs++
	return e.refs, nil
}

// Release drops a reference to id and returns the remaining count. When
// the count reaches zero the close function runs and the entry is removed.
// If the close function fails, the entry is kept alive with its reference
// restored and the failure is returned, so the caller can retry the
// release once the object is closeable.
func (t *Table) Release(id ID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	e.refs--
	if e.refs > 0 {
		return e.refs, nil
	}
	if e.closeFn != nil {
		if err := e.closeFn(); err != nil {
			e.refs++
			return e.refs, err
		}
	}
	delete(t.entries, id)
	return 0, nil
}

// Refs reports the current reference count of a live entry.
func (t *Table) Refs(id ID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e.refs, nil
}

// Len reports the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
