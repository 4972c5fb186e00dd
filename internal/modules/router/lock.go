// README: Per-order-reference locks serializing same-order transitions.
package router

import (
	"sync"

	"relay/internal/types"
)

type refLock struct {
	mu   sync.Mutex
	refs int
}

// refLocks hands out one mutex per order reference so concurrent events for
// the same order apply in sequence while unrelated orders proceed in
// parallel. Entries are removed once the last holder releases, keeping the
// map bounded by in-flight work.
type refLocks struct {
	mu sync.Mutex
	m  map[types.ID]*refLock
}

func newRefLocks() *refLocks {
	return &refLocks{m: make(map[types.ID]*refLock)}
}

// acquire blocks until the caller holds the reference's lock and returns the
// release func.
func (l *refLocks) acquire(ref types.ID) func() {
	l.mu.Lock()
	e, ok := l.m[ref]
	if !ok {
		e = &refLock{}
		l.m[ref] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, ref)
		}
		l.mu.Unlock()
	}
}
