package databind

import "reflect"

// ValueHandler converts between in-memory values and document tokens for one
// Key. A handler that has been fully resolved is safe to share across
// concurrent operations and must not carry use-site mutable state.
type ValueHandler interface {
	WriteValue(op *Operation, sink Sink, v reflect.Value) error
	ReadValue(op *Operation, src Source) (reflect.Value, error)
}

// Resolvable is the optional second-pass capability. Resolve runs exactly
// once, inside the construction critical section and before the handler is
// published, and may look up handlers for the types the handler is composed
// of; a cyclic lookup observes the handler itself in its unresolved state.
type Resolvable interface {
	ValueHandler
	Resolve(op *Operation) error
}

// Contextual is the optional specialization capability. ForSite derives a
// variant of the handler for one usage site; the canonical cached handler is
// never mutated and the variant is never cached in its place.
type Contextual interface {
	ValueHandler
	ForSite(op *Operation, site Site) (ValueHandler, error)
}

// Cacheable lets a handler opt out of the shared cache. Container handlers
// return false: they are cheap element-specific compositions that would bloat
// the cache without ever being reused as-is.
type Cacheable interface {
	ValueHandler
	Cacheable() bool
}

// isCacheable reports whether a handler may enter the shared cache. Handlers
// without the Cacheable capability are cacheable.
func isCacheable(h ValueHandler) bool {
	if c, ok := h.(Cacheable); ok {
		return c.Cacheable()
	}
	return true
}

// KeyHandler converts map keys, which documents represent as field names.
type KeyHandler interface {
	WriteKey(op *Operation, v reflect.Value) (string, error)
	ReadKey(op *Operation, s string) (reflect.Value, error)
}

// HandlerFactory builds new, unresolved handler instances. Factories never
// cache; caching and resolution are the provider's concern. A nil handler
// with a nil error means no handler applies and lets the provider fall back.
type HandlerFactory interface {
	CreateValueHandler(op *Operation, key Key, site Site) (ValueHandler, error)
	CreateTagHandler(op *Operation, key Key) (*TagHandler, error)
	CreateKeyHandler(op *Operation, key Key) (KeyHandler, error)
}

// Site describes the structural member a handler is being used for. The zero
// Site is the document root.
type Site struct {
	// Owner is the enclosing type, zero at the root.
	Owner Key
	// Member is the document name of the member within Owner.
	Member string
	// Hints carries per-member options sourced from struct tags.
	Hints map[string]string
}

// IsRoot reports whether this is the root usage site.
func (s Site) IsRoot() bool {
	return s.Owner.IsZero() && s.Member == ""
}

// Hint looks up a per-site option by name.
func (s Site) Hint(name string) (string, bool) {
	v, ok := s.Hints[name]
	return v, ok
}
