package databind

import (
	"reflect"
)

// Key is the identity a value handler is resolved and cached under. It wraps
// the reflected Go type, which already carries element, key and instantiated
// type-argument information, so a single canonical form covers both "runtime
// type of a value" and "declared type" lookups. Two Keys are equal iff they
// describe the identical type. A Key is immutable once constructed.
type Key struct {
	rtype reflect.Type
}

// KeyOf returns the Key for a declared type, including interface types:
// KeyOf[Animal]() is the interface itself, not a concrete implementation.
func KeyOf[T any]() Key {
	return Key{rtype: reflect.TypeOf((*T)(nil)).Elem()}
}

// KeyFor returns the Key for the runtime type of v.
// A nil or untyped value yields the zero Key.
func KeyFor(v any) Key {
	return Key{rtype: reflect.TypeOf(v)}
}

// KeyOfType wraps an already reflected type.
func KeyOfType(rt reflect.Type) Key {
	return Key{rtype: rt}
}

// Raw returns the reflected type backing this Key, nil for the zero Key.
func (k Key) Raw() reflect.Type {
	return k.rtype
}

// IsZero checks if the Key identifies no type at all.
func (k Key) IsZero() bool {
	return k.rtype == nil
}

// Kind returns the reflect kind of the keyed type, reflect.Invalid for the
// zero Key.
func (k Key) Kind() reflect.Kind {
	if k.rtype == nil {
		return reflect.Invalid
	}
	return k.rtype.Kind()
}

// Elem returns the content refinement of a container-like Key (pointer,
// slice, array or map value type). The zero Key is returned when the keyed
// type has no element type.
func (k Key) Elem() Key {
	if k.rtype == nil {
		return Key{}
	}
	switch k.rtype.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return Key{rtype: k.rtype.Elem()}
	default:
		return Key{}
	}
}

// MapKey returns the key refinement of a map Key, the zero Key otherwise.
func (k Key) MapKey() Key {
	if k.rtype == nil || k.rtype.Kind() != reflect.Map {
		return Key{}
	}
	return Key{rtype: k.rtype.Key()}
}

// String returns the canonical type description, e.g. "map[string]*databind.Raw".
func (k Key) String() string {
	if k.rtype == nil {
		return "<nil>"
	}
	return k.rtype.String()
}

// name returns a short name suitable as an inferred root wrapper, falling
// back to the canonical description for unnamed types.
func (k Key) name() string {
	if k.rtype == nil {
		return ""
	}
	rt := k.rtype
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if n := rt.Name(); n != "" {
		return n
	}
	return rt.String()
}
