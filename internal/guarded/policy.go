// Package guarded provides the synchronization building blocks of the
// peripheral runtime: a process-wide lock strategy, a per-tag lock registry,
// write-once and mutex-guarded shared handles, and a guarded callback holder.
//
// Each distinct protected identity ("tag") owns its own lock domain, so
// unrelated attributes never contend on a shared global lock. The strategy is
// chosen once at process start: single-core deployments get a no-op locker,
// multi-core deployments get a real mutex.
package guarded

import (
	"sync"

	"github.com/cornelk/hashmap"
)

// Strategy selects the mutual-exclusion primitive used for every lock domain
// created by a Registry. It is fixed once per deployment target.
type Strategy int

const (
	// MultiCore uses a real mutex per lock domain. Zero value, so an
	// unset strategy is always safe.
	MultiCore Strategy = iota

	// SingleCore disables locking entirely. Only valid when all stack
	// callbacks and application pushes run on one core with no preemption
	// between them.
	SingleCore
)

func (s Strategy) String() string {
	switch s {
	case SingleCore:
		return "single-core"
	case MultiCore:
		return "multi-core"
	default:
		return "unknown"
	}
}

// noopLocker satisfies sync.Locker without doing anything.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// NewLocker returns a fresh locker for one lock domain.
func (s Strategy) NewLocker() sync.Locker {
	if s == SingleCore {
		return noopLocker{}
	}
	return &sync.Mutex{}
}

// Registry maps a resource identity (characteristic, service, controller) to
// its lock domain. Lookups are concurrent-safe and the locker for a given tag
// is created at most once.
type Registry struct {
	strategy Strategy
	locks    *hashmap.Map[string, sync.Locker]
}

// NewRegistry creates a lock registry using the given strategy for every
// domain it hands out.
func NewRegistry(strategy Strategy) *Registry {
	return &Registry{
		strategy: strategy,
		locks:    hashmap.New[string, sync.Locker](),
	}
}

// Strategy reports the strategy this registry was created with.
func (r *Registry) Strategy() Strategy {
	return r.strategy
}

// Locker returns the lock domain for tag, creating it on first use.
// The same tag always yields the same locker.
func (r *Registry) Locker(tag string) sync.Locker {
	if l, ok := r.locks.Get(tag); ok {
		return l
	}
	actual, _ := r.locks.GetOrInsert(tag, r.strategy.NewLocker())
	return actual
}

// Len reports how many lock domains have been created so far.
func (r *Registry) Len() int {
	return r.locks.Len()
}
