package guarded

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle is a shared pointer holder for a runtime attribute object that is
// created exactly once during registration and lives for the device lifetime.
//
// A Handle operates in one of two modes:
//
//   - Immutable: Publish succeeds exactly once via an atomic claim-if-nil;
//     publishing twice is a fatal contract violation (the handle was
//     initialized from two call sites). Load is lock-free and always safe.
//
//   - Mutable: Publish and WithLock go through the tag's lock domain. There is
//     no lock-free read path; every caller is forced through the locked one.
//
// In both modes, access before publication observes "not yet created", which
// is a normal condition during early startup, never an error.
type Handle[T any] struct {
	tag       string
	immutable bool
	ptr       atomic.Pointer[T]
	mu        sync.Locker // nil in immutable mode
}

// NewImmutableHandle creates a write-once handle. Reads after publication are
// lock-free.
func NewImmutableHandle[T any](tag string) *Handle[T] {
	return &Handle[T]{tag: tag, immutable: true}
}

// NewHandle creates a mutable handle whose every access is serialized by the
// tag's lock domain from reg.
func NewHandle[T any](reg *Registry, tag string) *Handle[T] {
	return &Handle[T]{tag: tag, mu: reg.Locker(tag)}
}

// Publish installs the pointee. For immutable handles a second call panics:
// it means two call sites raced to initialize the same attribute, which is a
// programming error, not a runtime condition.
func (h *Handle[T]) Publish(p *T) {
	if h.immutable {
		if !h.ptr.CompareAndSwap(nil, p) {
			panic(fmt.Sprintf("guarded: immutable handle %q published twice", h.tag))
		}
		return
	}
	h.mu.Lock()
	h.ptr.Store(p)
	h.mu.Unlock()
}

// Load returns the pointee of an immutable handle, or nil if it has not been
// published yet. Calling Load on a mutable handle panics; mutable pointees
// must be reached through Call or WithLock.
func (h *Handle[T]) Load() *T {
	if !h.immutable {
		panic(fmt.Sprintf("guarded: lock-free read of mutable handle %q", h.tag))
	}
	return h.ptr.Load()
}

// Ready reports whether the pointee has been published.
func (h *Handle[T]) Ready() bool {
	if h.immutable {
		return h.ptr.Load() != nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ptr.Load() != nil
}

// Call invokes fn with the pointee only if it has been published, under the
// mode's access rule. A nil pointee is a no-op.
func (h *Handle[T]) Call(fn func(*T)) {
	if h.immutable {
		if p := h.ptr.Load(); p != nil {
			fn(p)
		}
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.ptr.Load(); p != nil {
		fn(p)
	}
}

// WithLock hands the raw pointer (possibly nil) to fn under the mode's access
// rule. The caller decides what a nil target means.
func (h *Handle[T]) WithLock(fn func(*T)) {
	if h.immutable {
		fn(h.ptr.Load())
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.ptr.Load())
}

// CallValue invokes fn with the pointee and returns its result, or the zero
// value of R when the pointee has not been published yet.
func CallValue[T, R any](h *Handle[T], fn func(*T) R) R {
	var zero R
	if h.immutable {
		if p := h.ptr.Load(); p != nil {
			return fn(p)
		}
		return zero
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.ptr.Load(); p != nil {
		return fn(p)
	}
	return zero
}
