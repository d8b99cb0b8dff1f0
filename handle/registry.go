// Package handle implements the opaque-identifier registry backing the
// public API. Streams and channel writers are referenced by numeric
// handles; the registry is the single point where a handle is resolved
// to a live object, leased for the duration of a call, and retired when
// the object closes.
//
// Handle values are process-unique and monotonically increasing,
// starting at 1. Zero is never a valid handle and values are never
// reused, so a stale handle fails resolution instead of aliasing a
// newer object.
package handle

import (
	"fmt"
	"sync"

	"github.com/c360/pointstream/errors"
)

// Handle is an opaque 64-bit identifier for a registered object.
type Handle uint64

// None is the zero handle, returned by failed allocations.
const None Handle = 0

// Kind distinguishes the object classes a handle may reference.
type Kind uint8

const (
	// KindStream handles reference a stream.
	KindStream Kind = iota + 1
	// KindWriter handles reference a channel writer.
	KindWriter
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindWriter:
		return "writer"
	default:
		return "unknown"
	}
}

// entry tracks a registered object together with its lease count and
// lifecycle flag. Entries are mutated only under the registry mutex.
type entry struct {
	kind    Kind
	object  any
	leases  int
	retired bool
}

// Registry maps handles to live objects. All methods are safe for
// concurrent use. Resolution hands out a Lease that pins the entry:
// a retired entry stays resolvable-by-existing-leases until the last
// lease is released, at which point it is removed.
type Registry struct {
	mu      sync.RWMutex
	next    Handle
	entries map[Handle]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Handle]*entry),
	}
}

// Allocate registers object under a fresh handle of the given kind.
func (r *Registry) Allocate(kind Kind, object any) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.entries[h] = &entry{kind: kind, object: object}
	return h
}

// Resolve looks up h, checks its kind, and returns a lease pinning the
// entry. The caller must Release the lease when the operation using the
// object completes. Resolution fails with ErrInvalidHandle for unknown
// handles, ErrWrongKind for a kind mismatch, and ErrHandleClosed once
// the handle has been retired.
func (r *Registry) Resolve(h Handle, kind Kind) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrInvalidHandle, h)
	}
	if e.kind != kind {
		return nil, fmt.Errorf("%w: handle %d is a %s, not a %s",
			errors.ErrWrongKind, h, e.kind, kind)
	}
	if e.retired {
		return nil, fmt.Errorf("%w: %d", errors.ErrHandleClosed, h)
	}

	e.leases++
	return &Lease{registry: r, handle: h, object: e.object}, nil
}

// Retire marks h closed and returns its object so the caller can shut
// it down. Subsequent Resolve calls fail immediately; the entry itself
// is removed once the last outstanding lease is released. Retiring an
// unknown or already retired handle is an error.
func (r *Registry) Retire(h Handle, kind Kind) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrInvalidHandle, h)
	}
	if e.kind != kind {
		return nil, fmt.Errorf("%w: handle %d is a %s, not a %s",
			errors.ErrWrongKind, h, e.kind, kind)
	}
	if e.retired {
		return nil, fmt.Errorf("%w: %d", errors.ErrHandleClosed, h)
	}

	e.retired = true
	if e.leases == 0 {
		delete(r.entries, h)
	}
	return e.object, nil
}

// IsValid reports whether h references a live (not retired) object of
// the given kind.
func (r *Registry) IsValid(h Handle, kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	return ok && e.kind == kind && !e.retired
}

// Count returns the number of entries of the given kind that are
// either active or retired but still pinned by a lease.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// Lease pins a resolved entry for the duration of one operation.
type Lease struct {
	registry *Registry
	handle   Handle
	object   any
	once     sync.Once
}

// Object returns the leased object.
func (l *Lease) Object() any {
	return l.object
}

// Handle returns the handle this lease resolved.
func (l *Lease) Handle() Handle {
	return l.handle
}

// Release unpins the entry. If the handle was retired while this lease
// was outstanding, the last release removes the entry. Release is
// idempotent.
func (l *Lease) Release() {
	l.once.Do(func() {
		r := l.registry
		r.mu.Lock()
		defer r.mu.Unlock()

		e, ok := r.entries[l.handle]
		if !ok {
			return
		}
		e.leases--
		if e.retired && e.leases == 0 {
			delete(r.entries, l.handle)
		}
	})
}
