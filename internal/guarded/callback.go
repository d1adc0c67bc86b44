package guarded

import "sync"

// Callback holds an optional callback of function type F, guarded by the
// tag's lock domain. Set, Get and Invoke all serialize on the same locker, so
// a callback can be swapped while the stack is delivering events without
// tearing.
//
// Invoking an unset callback is a no-op, never an error: "no handler
// registered" is a normal configuration, not a failure.
type Callback[F any] struct {
	mu  sync.Locker
	fn  F
	set bool
}

// NewCallback creates a callback holder using the tag's lock domain from reg.
func NewCallback[F any](reg *Registry, tag string) *Callback[F] {
	return &Callback[F]{mu: reg.Locker(tag)}
}

// Set installs the callback.
func (c *Callback[F]) Set(fn F) {
	c.mu.Lock()
	c.fn = fn
	c.set = true
	c.mu.Unlock()
}

// Clear removes the callback; subsequent Invoke calls are no-ops.
func (c *Callback[F]) Clear() {
	var zero F
	c.mu.Lock()
	c.fn = zero
	c.set = false
	c.mu.Unlock()
}

// IsSet reports whether a callback is installed.
func (c *Callback[F]) IsSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// Get returns the installed callback and whether one is set.
func (c *Callback[F]) Get() (F, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fn, c.set
}

// Invoke runs call with the installed callback under the lock. If no callback
// is set, Invoke does nothing.
func (c *Callback[F]) Invoke(call func(F)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		call(c.fn)
	}
}
