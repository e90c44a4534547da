package databind

import (
	"maps"
	"sync"
	"sync/atomic"
)

// cacheKey addresses one entry in the handler cache. Plain value handlers and
// discriminator-composed ones live in separate namespaces under the same type
// key, so populating one never shadows the other.
type cacheKey struct {
	key   Key
	typed bool
}

// HandlerCache is the shared, synchronized store of fully resolved value
// handlers. Every operation of a blueprint works against the blueprint's
// instance, so the cost of constructing a handler is paid once per blueprint,
// not once per operation.
//
// Reads during conversion go through a read-only snapshot captured when an
// operation starts. The snapshot is an immutable map published through an
// atomic pointer; mutations invalidate it and the next operation rebuilds it
// under the lock. A stale snapshot is harmless, a miss just falls through to
// the synchronized map.
type HandlerCache struct {
	mu       sync.Mutex
	handlers map[cacheKey]ValueHandler
	snap     atomic.Pointer[map[cacheKey]ValueHandler]
}

// NewHandlerCache returns an empty cache.
func NewHandlerCache() *HandlerCache {
	return &HandlerCache{handlers: map[cacheKey]ValueHandler{}}
}

// LookupUntyped returns the cached plain handler for key, if any.
func (c *HandlerCache) LookupUntyped(key Key) (ValueHandler, bool) {
	return c.lookup(cacheKey{key: key})
}

// LookupTyped returns the cached discriminator-composed handler for key.
func (c *HandlerCache) LookupTyped(key Key) (ValueHandler, bool) {
	return c.lookup(cacheKey{key: key, typed: true})
}

// InsertUntyped stores h in the plain namespace unless an entry already
// exists, and returns the surviving handler. First insert wins, so concurrent
// builders of the same type converge on a single instance.
func (c *HandlerCache) InsertUntyped(key Key, h ValueHandler) ValueHandler {
	return c.insert(cacheKey{key: key}, h)
}

// InsertTyped is InsertUntyped for the discriminator-composed namespace.
func (c *HandlerCache) InsertTyped(key Key, h ValueHandler) ValueHandler {
	return c.insert(cacheKey{key: key, typed: true}, h)
}

// Size reports the number of cached handlers across both namespaces.
func (c *HandlerCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Clear drops every cached handler and invalidates the snapshot.
func (c *HandlerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = map[cacheKey]ValueHandler{}
	c.snap.Store(nil)
}

func (c *HandlerCache) lookup(k cacheKey) (ValueHandler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handlers[k]
	return h, ok
}

func (c *HandlerCache) insert(k cacheKey, h ValueHandler) ValueHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.handlers[k]; ok {
		return prev
	}
	c.handlers[k] = h
	c.snap.Store(nil)
	return h
}

// snapshot returns the current immutable view, rebuilding it under the lock
// when a mutation invalidated it. Callers must treat the result as read-only.
func (c *HandlerCache) snapshot() map[cacheKey]ValueHandler {
	if p := c.snap.Load(); p != nil {
		return *p
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.snap.Load(); p != nil {
		return *p
	}
	view := maps.Clone(c.handlers)
	c.snap.Store(&view)
	return view
}
