// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package registry tracks registered mutator threads: their stack bounds
// and a reference count for safe teardown while a scan is in flight. A
// Thread holds no link to a candidate queue; queues are created and owned
// separately.
//
// The shape here is the same one an epoch manager uses for tracking active
// snapshot timestamps (a map guarded by sync.RWMutex, with
// Register/Unregister and an O(n) reduction over the live set) — forkscan
// needs the identical concurrency shape, just keyed by thread identity and
// carrying stack bounds instead of a timestamp.
//
// # Thread Safety
//
// Registry is safe for concurrent Register/Unregister/Lookup from multiple
// goroutines. Lookup takes a reference on the returned Thread to keep it
// alive across a stack walk; callers must call Release when done.
package registry

import (
	"sync"
	"sync/atomic"
)

// ID identifies a registered mutator. Register assigns it from a
// monotonically increasing counter; it is comparable and stable for the
// lifetime of the registration.
type ID uint64

// Thread is a registered mutator's stack bounds and lifecycle state.
type Thread struct {
	ID        ID
	Low, High uintptr // [Low, High) stack range, scanned by the child.
	OwnsStack bool    // true if forkscan itself allocated this stack.

	refCount int32
}

// Registry is the live set of registered mutator threads.
type Registry struct {
	mu      sync.RWMutex
	threads map[ID]*Thread
	nextID  uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{threads: make(map[ID]*Thread)}
}

// Register adds a thread with the given stack bounds and returns its
// handle. The returned Thread starts with a reference count of 1, held by
// the registry itself; Unregister drops that reference.
func (r *Registry) Register(low, high uintptr, ownsStack bool) *Thread {
	id := ID(atomic.AddUint64(&r.nextID, 1))
	t := &Thread{ID: id, Low: low, High: high, OwnsStack: ownsStack, refCount: 1}

	r.mu.Lock()
	r.threads[id] = t
	r.mu.Unlock()
	return t
}

// Unregister removes a thread from the live set and drops the registry's
// own reference. If a concurrent scan is holding a reference (via Lookup),
// the Thread struct survives until that reference is released — callers
// must not reuse its stack memory until Released reports true, or a
// concurrent scanner could walk freed memory ("data race on
// thread exit").
func (r *Registry) Unregister(t *Thread) {
	r.mu.Lock()
	delete(r.threads, t.ID)
	r.mu.Unlock()
	atomic.AddInt32(&t.refCount, -1)
}

// Lookup finds the thread whose stack range contains addr, taking a
// reference on it. Callers must call Release when finished. Returns nil if
// no registered thread's stack contains addr.
func (r *Registry) Lookup(addr uintptr) *Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.threads {
		if addr >= t.Low && addr < t.High {
			atomic.AddInt32(&t.refCount, 1)
			return t
		}
	}
	return nil
}

// Release drops a reference taken by Lookup or held implicitly by
// Register.
func Release(t *Thread) {
	atomic.AddInt32(&t.refCount, -1)
}

// Released reports whether all references to t have been dropped (safe to
// reclaim its stack memory if OwnsStack is set).
func Released(t *Thread) bool {
	return atomic.LoadInt32(&t.refCount) <= 0
}

// Snapshot returns a stable slice of the currently registered threads, each
// with an extra reference held so the child scanner can walk their stacks
// without a concurrent Unregister invalidating them mid-walk. Callers must
// Release every returned Thread when done.
func (r *Registry) Snapshot() []*Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Thread, 0, len(r.threads))
	for _, t := range r.threads {
		atomic.AddInt32(&t.refCount, 1)
		out = append(out, t)
	}
	return out
}

// Count returns the number of currently registered threads.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}
