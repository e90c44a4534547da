package databind

import "sync"

// tracker guards handler construction. One construction tree runs at a time
// per blueprint: an operation entering an outermost build takes the lock,
// keeps it across every nested member build, and releases it when the tree
// finishes. Concurrent operations needing a handler for the same type block
// here instead of duplicating the build, and re-check the shared cache once
// they get in.
//
// Serializing all construction globally is deliberately coarse. Construction
// happens once per type per process lifetime; after warmup every lookup is
// served lock-free from cache snapshots, so a wide lock buys simple cycle
// handling at a cost that is only paid while the cache is cold.
//
// The incomplete map breaks dependency cycles: a handler that needs to
// resolve member handlers is published here before its Resolve runs, so a
// cycle back to the same type observes the unfinished instance instead of
// recursing forever. Entries never outlive the outermost construction.
type tracker struct {
	mu         sync.Mutex
	incomplete map[Key]ValueHandler
}

func newTracker() *tracker {
	return &tracker{incomplete: map[Key]ValueHandler{}}
}

// enter takes the construction critical section. Only the outermost build of
// a construction tree calls this; nested builds already hold it.
func (t *tracker) enter() {
	t.mu.Lock()
}

// exit leaves the critical section, discarding incomplete handlers the
// finished tree left behind. Non-cacheable handlers parked here must not
// survive the tree that created them.
func (t *tracker) exit() {
	if len(t.incomplete) > 0 {
		clear(t.incomplete)
	}
	t.mu.Unlock()
}

// pending returns the unfinished handler for key when the running
// construction tree is already building it. The caller may use the instance
// immediately; it becomes fully resolved before the tree completes.
func (t *tracker) pending(key Key) (ValueHandler, bool) {
	h, ok := t.incomplete[key]
	return h, ok
}

// publish parks an unfinished handler before its Resolve runs.
func (t *tracker) publish(key Key, h ValueHandler) {
	t.incomplete[key] = h
}

// retract removes a handler once its Resolve completed or failed.
func (t *tracker) retract(key Key) {
	delete(t.incomplete, key)
}
