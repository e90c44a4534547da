package databind

import (
	"fmt"
	"maps"
	"reflect"
	"sync"
)

// TagRegistry maps polymorphic discriminator tags to concrete Go types and
// back. The write side resolves a value's tag from its runtime type, the read
// side instantiates the registered type for a document's tag. Registration
// normally happens once at startup; lookups are concurrent.
type TagRegistry struct {
	mu sync.RWMutex
	// allowUnknown makes unknown tags decode into a Raw fragment with
	// NewValue instead of failing.
	allowUnknown bool
	byTag        map[Tag]reflect.Type
	byType       map[reflect.Type]Tag
}

// NewTagRegistry creates an empty registry.
func NewTagRegistry(opts ...TagRegistryOption) *TagRegistry {
	reg := &TagRegistry{
		byTag:  make(map[Tag]reflect.Type),
		byType: make(map[reflect.Type]Tag),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

type TagRegistryOption func(*TagRegistry)

// WithAllowUnknown allows values with unknown tags to be decoded as Raw.
func WithAllowUnknown() TagRegistryOption {
	return func(registry *TagRegistry) {
		registry.allowUnknown = true
	}
}

// AllowsUnknown reports whether unknown tags decode into Raw.
func (r *TagRegistry) AllowsUnknown() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allowUnknown
}

// Clone returns an independent copy of the registry.
func (r *TagRegistry) Clone() *TagRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewTagRegistry()
	clone.allowUnknown = r.allowUnknown
	maps.Copy(clone.byTag, r.byTag)
	maps.Copy(clone.byType, r.byType)
	return clone
}

// RegisterWithAlias registers a prototype under one or more tags. The first
// tag becomes the canonical tag emitted on the write side; the rest are
// accepted as aliases on the read side. Prototypes must be pointers to
// structs.
func (r *TagRegistry) RegisterWithAlias(prototype any, tags ...Tag) error {
	rt := reflect.TypeOf(prototype)
	if rt == nil || rt.Kind() != reflect.Pointer || rt.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("prototype must be a pointer to a struct, got %T", prototype)
	}
	elem := rt.Elem()

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, tag := range tags {
		if tag.Name == "" {
			return fmt.Errorf("cannot register empty tag for %s", elem)
		}
		if _, exists := r.byTag[tag]; exists {
			return fmt.Errorf("tag %q is already registered", tag)
		}
		r.byTag[tag] = elem
		if i == 0 {
			if _, exists := r.byType[elem]; !exists {
				r.byType[elem] = tag
			}
		}
	}
	return nil
}

// MustRegisterWithAlias is RegisterWithAlias that panics on error.
func (r *TagRegistry) MustRegisterWithAlias(prototype any, tags ...Tag) {
	if err := r.RegisterWithAlias(prototype, tags...); err != nil {
		panic(err)
	}
}

// MustRegister registers a prototype under a tag derived from its type name
// and the given version.
func (r *TagRegistry) MustRegister(prototype any, version string) {
	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Pointer {
		panic("all prototypes must be pointers to structs")
	}
	t = t.Elem()
	r.MustRegisterWithAlias(prototype, NewVersionedTag(t.Name(), version))
}

// TagForType resolves the canonical tag of a concrete type. Pointer types
// resolve through their element type.
func (r *TagRegistry) TagForType(rt reflect.Type) (Tag, error) {
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil {
		return Tag{}, fmt.Errorf("no tag registered for untyped nil")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tag, ok := r.byType[rt]
	if !ok {
		return Tag{}, fmt.Errorf("no tag registered for %s", rt)
	}
	return tag, nil
}

// TagFor resolves the canonical tag of a value's runtime type.
func (r *TagRegistry) TagFor(v any) (Tag, error) {
	return r.TagForType(reflect.TypeOf(v))
}

// IsRegistered checks whether a tag is known, aliases included.
func (r *TagRegistry) IsRegistered(tag Tag) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.byTag[tag]
	return exists
}

// TypeForTag returns the registered concrete type for a tag.
func (r *TagRegistry) TypeForTag(tag Tag) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.byTag[tag]
	return rt, ok
}

// NewValue creates a new pointer instance of the type registered for the
// tag. Unknown tags yield a *Raw when the registry allows unknown tags and
// fail otherwise. The tag is set on the fresh value if it accepts one.
func (r *TagRegistry) NewValue(tag Tag) (any, error) {
	r.mu.RLock()
	elem, exists := r.byTag[tag]
	allowUnknown := r.allowUnknown
	r.mu.RUnlock()

	if exists {
		v := reflect.New(elem).Interface()
		if tagged, ok := v.(Tagged); ok {
			tagged.SetTag(tag)
		}
		return v, nil
	}

	if allowUnknown {
		return &Raw{Tag: tag}, nil
	}

	return nil, fmt.Errorf("unsupported tag: %s", tag)
}
