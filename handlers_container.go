package databind

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// ptrHandler dereferences on write and allocates on read; nil maps to null.
type ptrHandler struct {
	key  Key
	elem ValueHandler
}

func (h *ptrHandler) Resolve(op *Operation) error {
	elem, err := op.FindTypedValueHandler(KeyOfType(h.key.Raw().Elem()), Site{Owner: h.key})
	if err != nil {
		return err
	}
	h.elem = elem
	return nil
}

func (h *ptrHandler) ForSite(op *Operation, site Site) (ValueHandler, error) {
	if c, ok := h.elem.(Contextual); ok {
		elem, err := c.ForSite(op, site)
		if err != nil {
			return nil, err
		}
		if elem != h.elem {
			return &ptrHandler{key: h.key, elem: elem}, nil
		}
	}
	return h, nil
}

func (h *ptrHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if v.IsNil() {
		return sink.WriteNull()
	}
	return h.elem.WriteValue(op, sink, v.Elem())
}

func (h *ptrHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(h.key.Raw()).Elem()
	if src.Kind() == KindNull {
		return out, nil
	}
	ev, err := h.elem.ReadValue(op, src)
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.New(h.key.Raw().Elem())
	p.Elem().Set(ev)
	out.Set(p)
	return out, nil
}

// sliceHandler converts slices element by element. Like all container
// handlers it is not cacheable: it is a cheap composition over the element
// handler, rebuilt per construction tree.
type sliceHandler struct {
	key  Key
	elem ValueHandler
}

func (h *sliceHandler) Cacheable() bool { return false }

func (h *sliceHandler) Resolve(op *Operation) error {
	elem, err := op.FindTypedValueHandler(KeyOfType(h.key.Raw().Elem()), Site{Owner: h.key})
	if err != nil {
		return err
	}
	h.elem = elem
	return nil
}

func (h *sliceHandler) ForSite(op *Operation, site Site) (ValueHandler, error) {
	if c, ok := h.elem.(Contextual); ok {
		elem, err := c.ForSite(op, site)
		if err != nil {
			return nil, err
		}
		if elem != h.elem {
			return &sliceHandler{key: h.key, elem: elem}, nil
		}
	}
	return h, nil
}

func (h *sliceHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if v.IsNil() {
		return sink.WriteNull()
	}
	if err := sink.BeginArray(); err != nil {
		return err
	}
	for i := 0; i < v.Len(); i++ {
		if err := h.elem.WriteValue(op, sink, v.Index(i)); err != nil {
			return err
		}
	}
	return sink.EndArray()
}

func (h *sliceHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(h.key.Raw()).Elem()
	switch src.Kind() {
	case KindNull:
		return out, nil
	case KindArray:
	default:
		return reflect.Value{}, fmt.Errorf("cannot read %s from a %s document node", h.key, src.Kind())
	}
	n, err := src.Len()
	if err != nil {
		return reflect.Value{}, err
	}
	s := reflect.MakeSlice(h.key.Raw(), n, n)
	for i := 0; i < n; i++ {
		if err := src.Index(i); err != nil {
			return reflect.Value{}, err
		}
		ev, err := h.elem.ReadValue(op, src)
		src.Leave()
		if err != nil {
			return reflect.Value{}, err
		}
		s.Index(i).Set(ev)
	}
	out.Set(s)
	return out, nil
}

// arrayHandler converts fixed-length arrays. Shorter documents leave the
// remaining elements zero; longer ones fail.
type arrayHandler struct {
	key  Key
	elem ValueHandler
}

func (h *arrayHandler) Cacheable() bool { return false }

func (h *arrayHandler) Resolve(op *Operation) error {
	elem, err := op.FindTypedValueHandler(KeyOfType(h.key.Raw().Elem()), Site{Owner: h.key})
	if err != nil {
		return err
	}
	h.elem = elem
	return nil
}

func (h *arrayHandler) ForSite(op *Operation, site Site) (ValueHandler, error) {
	if c, ok := h.elem.(Contextual); ok {
		elem, err := c.ForSite(op, site)
		if err != nil {
			return nil, err
		}
		if elem != h.elem {
			return &arrayHandler{key: h.key, elem: elem}, nil
		}
	}
	return h, nil
}

func (h *arrayHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if err := sink.BeginArray(); err != nil {
		return err
	}
	for i := 0; i < v.Len(); i++ {
		if err := h.elem.WriteValue(op, sink, v.Index(i)); err != nil {
			return err
		}
	}
	return sink.EndArray()
}

func (h *arrayHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(h.key.Raw()).Elem()
	if src.Kind() == KindNull {
		return out, nil
	}
	if src.Kind() != KindArray {
		return reflect.Value{}, fmt.Errorf("cannot read %s from a %s document node", h.key, src.Kind())
	}
	n, err := src.Len()
	if err != nil {
		return reflect.Value{}, err
	}
	if n > out.Len() {
		return reflect.Value{}, fmt.Errorf("document array of length %d overflows %s", n, h.key)
	}
	for i := 0; i < n; i++ {
		if err := src.Index(i); err != nil {
			return reflect.Value{}, err
		}
		ev, err := h.elem.ReadValue(op, src)
		src.Leave()
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

// mapHandler converts maps to document objects. Keys go through a KeyHandler;
// entries are written in sorted key order so streaming sinks see stable
// output.
type mapHandler struct {
	key  Key
	keys KeyHandler
	elem ValueHandler
}

func (h *mapHandler) Cacheable() bool { return false }

func (h *mapHandler) Resolve(op *Operation) error {
	keys, err := op.FindKeyHandler(KeyOfType(h.key.Raw().Key()))
	if err != nil {
		return err
	}
	elem, err := op.FindTypedValueHandler(KeyOfType(h.key.Raw().Elem()), Site{Owner: h.key})
	if err != nil {
		return err
	}
	h.keys, h.elem = keys, elem
	return nil
}

func (h *mapHandler) ForSite(op *Operation, site Site) (ValueHandler, error) {
	if c, ok := h.elem.(Contextual); ok {
		elem, err := c.ForSite(op, site)
		if err != nil {
			return nil, err
		}
		if elem != h.elem {
			return &mapHandler{key: h.key, keys: h.keys, elem: elem}, nil
		}
	}
	return h, nil
}

func (h *mapHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if v.IsNil() {
		return sink.WriteNull()
	}
	if err := sink.BeginObject(); err != nil {
		return err
	}
	if err := h.writeBody(op, sink, v); err != nil {
		return err
	}
	return sink.EndObject()
}

func (h *mapHandler) writeBody(op *Operation, sink Sink, v reflect.Value) error {
	type entry struct {
		name  string
		value reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		kv := iter.Key()
		name, err := h.writeKey(op, kv)
		if err != nil {
			return err
		}
		entries = append(entries, entry{name: name, value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	for _, e := range entries {
		if err := sink.FieldName(e.name); err != nil {
			return err
		}
		if err := h.elem.WriteValue(op, sink, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (h *mapHandler) writeKey(op *Operation, kv reflect.Value) (string, error) {
	switch kv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if kv.IsNil() {
			if op.bp.cfg.Enabled(FeatureNullKeyAsEmpty) {
				return "", nil
			}
			return "", fmt.Errorf("null key for object is not allowed")
		}
	}
	return h.keys.WriteKey(op, kv)
}

func (h *mapHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(h.key.Raw()).Elem()
	switch src.Kind() {
	case KindNull:
		return out, nil
	case KindObject:
	default:
		return reflect.Value{}, fmt.Errorf("cannot read %s from a %s document node", h.key, src.Kind())
	}
	fields, err := src.Fields()
	if err != nil {
		return reflect.Value{}, err
	}
	m := reflect.MakeMapWithSize(h.key.Raw(), len(fields))
	for _, name := range fields {
		kv, err := h.keys.ReadKey(op, name)
		if err != nil {
			return reflect.Value{}, err
		}
		if _, err := src.Field(name); err != nil {
			return reflect.Value{}, err
		}
		ev, err := h.elem.ReadValue(op, src)
		src.Leave()
		if err != nil {
			return reflect.Value{}, err
		}
		m.SetMapIndex(kv, ev)
	}
	out.Set(m)
	return out, nil
}

// stringKeyHandler converts string-kinded map keys.
type stringKeyHandler struct {
	rt reflect.Type
}

func (h *stringKeyHandler) WriteKey(op *Operation, v reflect.Value) (string, error) {
	return v.String(), nil
}

func (h *stringKeyHandler) ReadKey(op *Operation, s string) (reflect.Value, error) {
	out := reflect.New(h.rt).Elem()
	out.SetString(s)
	return out, nil
}

// intKeyHandler converts signed integer map keys via their decimal form.
type intKeyHandler struct {
	rt reflect.Type
}

func (h *intKeyHandler) WriteKey(op *Operation, v reflect.Value) (string, error) {
	return strconv.FormatInt(v.Int(), 10), nil
}

func (h *intKeyHandler) ReadKey(op *Operation, s string) (reflect.Value, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("parsing object key %q as %s: %w", s, h.rt, err)
	}
	out := reflect.New(h.rt).Elem()
	if out.OverflowInt(n) {
		return reflect.Value{}, fmt.Errorf("object key %q overflows %s", s, h.rt)
	}
	out.SetInt(n)
	return out, nil
}

// uintKeyHandler converts unsigned integer map keys via their decimal form.
type uintKeyHandler struct {
	rt reflect.Type
}

func (h *uintKeyHandler) WriteKey(op *Operation, v reflect.Value) (string, error) {
	return strconv.FormatUint(v.Uint(), 10), nil
}

func (h *uintKeyHandler) ReadKey(op *Operation, s string) (reflect.Value, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("parsing object key %q as %s: %w", s, h.rt, err)
	}
	out := reflect.New(h.rt).Elem()
	if out.OverflowUint(n) {
		return reflect.Value{}, fmt.Errorf("object key %q overflows %s", s, h.rt)
	}
	out.SetUint(n)
	return out, nil
}

// textKeyHandler converts key types that implement encoding.TextMarshaler and
// encoding.TextUnmarshaler.
type textKeyHandler struct {
	rt reflect.Type
}

func (h *textKeyHandler) WriteKey(op *Operation, v reflect.Value) (string, error) {
	m, ok := v.Interface().(encoding.TextMarshaler)
	if !ok {
		p := reflect.New(h.rt)
		p.Elem().Set(v)
		m = p.Interface().(encoding.TextMarshaler)
	}
	b, err := m.MarshalText()
	if err != nil {
		return "", fmt.Errorf("marshalling object key of type %s: %w", h.rt, err)
	}
	return string(b), nil
}

func (h *textKeyHandler) ReadKey(op *Operation, s string) (reflect.Value, error) {
	p := reflect.New(h.rt)
	if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
		return reflect.Value{}, fmt.Errorf("parsing object key %q as %s: %w", s, h.rt, err)
	}
	return p.Elem(), nil
}

// fallbackKeyHandler serves map key types nothing else covers. Writing
// stringifies best-effort; reading back fails, because there is no general
// inverse of fmt formatting.
type fallbackKeyHandler struct {
	rt reflect.Type
}

func (h *fallbackKeyHandler) WriteKey(op *Operation, v reflect.Value) (string, error) {
	return fmt.Sprint(v.Interface()), nil
}

func (h *fallbackKeyHandler) ReadKey(op *Operation, s string) (reflect.Value, error) {
	return reflect.Value{}, fmt.Errorf("no key handler for map key type %s", h.rt)
}
