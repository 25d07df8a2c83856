// Package flight is the Single-Flight Registry: an in-memory map from
// fingerprint to an ordered list of waiters, ensuring exactly one fetch runs
// per fingerprint at a time and every waiter observes exactly one fan-out
// result. Grounded on server/middleware/caching/locker.go's map-of-locks
// pattern and proxy/proxy.go's use of a singleflight.Group for upstream
// coalescing, but purpose-built: the teacher's locker only exposes
// Lock/Unlock, and golang.org/x/sync/singleflight's Do/DoChan API has no
// room for the drop-without-cancel waiter semantics this registry needs.
package flight

import "sync"

// Registry coalesces concurrent work keyed by a string fingerprint. Result
// type T is typically the outcome the Fetcher hands to every waiter.
type Registry[T any] struct {
	mu       sync.Mutex
	inflight map[string]*entry[T]
	metrics  Metrics
}

// Metrics lets callers observe registry activity without the package
// depending on a concrete metrics backend.
type Metrics interface {
	WaiterJoined()
	InFlightChanged(delta int)
}

type noopMetrics struct{}

func (noopMetrics) WaiterJoined()       {}
func (noopMetrics) InFlightChanged(int) {}

type entry[T any] struct {
	waiters []*Waiter[T]
	nextID  uint64
}

// Waiter is a single subscriber's slot in an in-flight entry's waiter list.
// Drop removes the slot so Complete skips it, without affecting the leader's
// fetch.
type Waiter[T any] struct {
	id  uint64
	ch  chan T
	key string
}

// Ch returns the channel the fan-out result is delivered on. It receives
// exactly once, unless the waiter was dropped first.
func (w *Waiter[T]) Ch() <-chan T {
	return w.ch
}

// New constructs an empty Registry. metrics may be nil.
func New[T any](metrics Metrics) *Registry[T] {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Registry[T]{
		inflight: make(map[string]*entry[T]),
		metrics:  metrics,
	}
}

// Join atomically adds a waiter to the waiter list for key, creating the
// list (and reporting isLeader=true) if this is the first join for key.
// Only the leader should drive the fetch; every joiner (leader included)
// receives its result via the returned Waiter.
func (r *Registry[T]) Join(key string) (w *Waiter[T], isLeader bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.inflight[key]
	if !ok {
		e = &entry[T]{}
		r.inflight[key] = e
		isLeader = true
		r.metrics.InFlightChanged(1)
	} else {
		r.metrics.WaiterJoined()
	}

	e.nextID++
	waiter := &Waiter[T]{id: e.nextID, ch: make(chan T, 1), key: key}
	e.waiters = append(e.waiters, waiter)

	return waiter, isLeader
}

// Drop removes w from its entry's waiter list without affecting the leader's
// in-flight fetch. Safe to call even after Complete has already fired (a
// no-op in that case).
func (r *Registry[T]) Drop(w *Waiter[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.inflight[w.key]
	if !ok {
		return
	}
	for i, other := range e.waiters {
		if other == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
}

// Complete atomically removes the waiter list for key and delivers result to
// every remaining waiter, in join order. A no-op if no list exists for key
// (defensive, matching spec.md §4.4's contract).
func (r *Registry[T]) Complete(key string, result T) {
	r.mu.Lock()
	e, ok := r.inflight[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.inflight, key)
	r.metrics.InFlightChanged(-1)
	r.mu.Unlock()

	for _, w := range e.waiters {
		w.ch <- result
		close(w.ch)
	}
}

// InFlight reports whether key currently has a leader fetch running.
func (r *Registry[T]) InFlight(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[key]
	return ok
}
