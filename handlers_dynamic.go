package databind

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// anyHandler converts any-typed values. Writes dispatch on the runtime type
// through the typed lookup, so registered values keep their discriminator;
// reads produce plain document trees.
type anyHandler struct{}

func (anyHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if v.IsNil() {
		return sink.WriteNull()
	}
	cv := v.Elem()
	ch, err := op.FindTypedValueHandler(KeyOfType(cv.Type()), Site{})
	if err != nil {
		return err
	}
	return ch.WriteValue(op, sink, cv)
}

func (anyHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(anyType).Elem()
	if src.Kind() == KindNull {
		return out, nil
	}
	if tree := normalizeTree(src.Any()); tree != nil {
		out.Set(reflect.ValueOf(tree))
	}
	return out, nil
}

// ifaceHandler converts values declared as a non-empty interface. Writes
// dispatch on the concrete type; reads require a discriminator to pick the
// concrete type and go through the same resolution as a composed handler.
type ifaceHandler struct {
	key Key
}

func (h *ifaceHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if v.IsNil() {
		return sink.WriteNull()
	}
	cv := v.Elem()
	ch, err := op.FindTypedValueHandler(KeyOfType(cv.Type()), Site{})
	if err != nil {
		return err
	}
	return ch.WriteValue(op, sink, cv)
}

func (h *ifaceHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	th := &taggedHandler{inner: h, tag: NewTagHandler(h.key, op.bp.cfg.TagField)}
	return th.ReadValue(op, src)
}

// unstructuredHandler converts Unstructured values, the schema-free escape
// hatch. The data map is the document.
type unstructuredHandler struct{}

func (h unstructuredHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if v.Interface().(Unstructured).Data == nil {
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

func (unstructuredHandler) writeBody(op *Operation, sink Sink, v reflect.Value) error {
	data := v.Interface().(Unstructured).Data
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := sink.FieldName(k); err != nil {
			return err
		}
		if err := writeTree(sink, data[k]); err != nil {
			return err
		}
	}
	return nil
}

func (unstructuredHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(unstructuredType).Elem()
	switch src.Kind() {
	case KindNull:
		return out, nil
	case KindObject:
	default:
		return reflect.Value{}, fmt.Errorf("cannot read Unstructured from a %s document node", src.Kind())
	}
	tree, ok := normalizeTree(src.Any()).(map[string]any)
	if !ok {
		return reflect.Value{}, fmt.Errorf("object node did not normalize to a map")
	}
	out.Set(reflect.ValueOf(Unstructured{Data: tree}))
	return out, nil
}

// rawHandler converts Raw fragments. Writing replays the stored canonical
// bytes into the sink; reading captures the subtree, canonicalizes it and
// keeps the bytes verbatim for a later round trip.
type rawHandler struct{}

func (rawHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	r := v.Interface().(Raw)
	if len(r.Data) == 0 {
		return sink.WriteNull()
	}
	tree, err := JSON.Unmarshal(r.Data)
	if err != nil {
		return fmt.Errorf("raw fragment does not hold valid data: %w", err)
	}
	return writeTree(sink, tree)
}

func (rawHandler) writeBody(op *Operation, sink Sink, v reflect.Value) error {
	r := v.Interface().(Raw)
	tree, err := JSON.Unmarshal(r.Data)
	if err != nil {
		return fmt.Errorf("raw fragment does not hold valid data: %w", err)
	}
	m, ok := tree.(map[string]any)
	if !ok {
		return fmt.Errorf("raw fragment is not an object")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := sink.FieldName(k); err != nil {
			return err
		}
		if err := writeTree(sink, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (rawHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(rawType).Elem()
	if src.Kind() == KindNull {
		return out, nil
	}
	tree := src.Any()
	data, err := json.Marshal(tree)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("capturing raw fragment: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(data)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("canonicalizing raw fragment: %w", err)
	}
	r := Raw{Data: canonical}
	if m, ok := tree.(map[string]any); ok {
		if ts, ok := m[op.bp.cfg.TagField].(string); ok {
			if tag, err := ParseTag(ts); err == nil {
				r.Tag = tag
			}
		}
	}
	out.Set(reflect.ValueOf(r))
	return out, nil
}
