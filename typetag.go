package databind

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// objectShaped is implemented by handlers whose document form is an object.
// The discriminator embeds its tag as a leading field of such values; values
// of any other shape are wrapped in a single-field object keyed by the tag.
type objectShaped interface {
	writeBody(op *Operation, sink Sink, v reflect.Value) error
}

// TagHandler carries the discriminator mechanics for one declared base type:
// which document field holds the tag and which registry resolves it. It does
// nothing on its own; Compose pairs it with a value handler.
type TagHandler struct {
	base  Key
	field string
}

// NewTagHandler returns a discriminator handler for the declared base type
// using the given document field.
func NewTagHandler(base Key, field string) *TagHandler {
	return &TagHandler{base: base, field: field}
}

// Field returns the document field name carrying the tag.
func (t *TagHandler) Field() string { return t.field }

// Compose wraps a value handler with discriminator handling. A nil tag
// handler returns the value handler unchanged, so for types without
// polymorphic behavior the composed handler is the plain one.
func Compose(h ValueHandler, tag *TagHandler) ValueHandler {
	if tag == nil {
		return h
	}
	return &taggedHandler{inner: h, tag: tag}
}

// taggedHandler is the composed result of Compose: it writes values with
// their discriminator tag and resolves the tag back to a concrete handler on
// the read side.
type taggedHandler struct {
	inner ValueHandler
	tag   *TagHandler
	site  Site
}

func (h *taggedHandler) Cacheable() bool {
	return isCacheable(h.inner)
}

func (h *taggedHandler) ForSite(op *Operation, site Site) (ValueHandler, error) {
	inner := h.inner
	if c, ok := inner.(Contextual); ok {
		v, err := c.ForSite(op, site)
		if err != nil {
			return nil, err
		}
		inner = v
	}
	if inner == h.inner && site.IsRoot() {
		return h, nil
	}
	return &taggedHandler{inner: inner, tag: h.tag, site: site}, nil
}

func (h *taggedHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	cv := v
	var inband Tag
	var hasInband bool
	for cv.Kind() == reflect.Interface || cv.Kind() == reflect.Pointer {
		if cv.IsNil() {
			return sink.WriteNull()
		}
		if !hasInband {
			inband, hasInband = inbandTag(cv)
		}
		cv = cv.Elem()
	}
	if !hasInband {
		inband, hasInband = inbandTag(cv)
	}

	// The registry's tag is canonical; unregistered values that travel with
	// their tag in-band (Raw fragments above all) keep the carried one.
	tag, err := op.bp.tags.TagForType(cv.Type())
	if err != nil {
		if !hasInband {
			return err
		}
		tag = inband
	}

	ch := h.inner
	if ck := KeyOfType(cv.Type()); ck != h.tag.base {
		if ch, err = op.FindValueHandler(ck, h.site); err != nil {
			return err
		}
	}

	if err := sink.BeginObject(); err != nil {
		return err
	}
	if body, ok := ch.(objectShaped); ok {
		if err := sink.FieldName(h.tag.field); err != nil {
			return err
		}
		if err := sink.WriteString(tag.String()); err != nil {
			return err
		}
		if err := body.writeBody(op, sink, cv); err != nil {
			return err
		}
	} else {
		if err := sink.FieldName(tag.String()); err != nil {
			return err
		}
		if err := ch.WriteValue(op, sink, cv); err != nil {
			return err
		}
	}
	return sink.EndObject()
}

func (h *taggedHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	base := h.tag.base.Raw()
	switch src.Kind() {
	case KindNull:
		return reflect.New(base).Elem(), nil
	case KindObject:
	default:
		// Registered concrete types may still construct from scalars.
		if base.Kind() == reflect.Interface {
			return reflect.Value{}, fmt.Errorf("cannot resolve %s from a %s document node", h.tag.base, src.Kind())
		}
		return h.inner.ReadValue(op, src)
	}

	tree, _ := src.Any().(map[string]any)

	if tv, ok := tree[h.tag.field]; ok {
		ts, ok := tv.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("discriminator field %q must be a string, got %T", h.tag.field, tv)
		}
		tag, err := ParseTag(ts)
		if err != nil {
			return reflect.Value{}, err
		}
		return h.readAs(op, tag, stripField(tree, h.tag.field), tree)
	}

	// Wrapper form: a single field whose name is a registered tag.
	if len(tree) == 1 {
		for name, body := range tree {
			if tag, err := ParseTag(name); err == nil && op.bp.tags.IsRegistered(tag) {
				return h.readAs(op, tag, body, tree)
			}
		}
	}

	if base.Kind() != reflect.Interface {
		return h.inner.ReadValue(op, src)
	}
	return reflect.Value{}, fmt.Errorf("document for %s carries no %q discriminator", h.tag.base, h.tag.field)
}

// readAs resolves the tag to a concrete type, reads body with that type's
// handler and adapts the result to the declared base. full is the complete
// object, needed when an unknown tag falls back to a Raw fragment.
func (h *taggedHandler) readAs(op *Operation, tag Tag, body any, full map[string]any) (reflect.Value, error) {
	base := h.tag.base.Raw()

	elem, ok := op.bp.tags.TypeForTag(tag)
	if !ok {
		if op.bp.tags.AllowsUnknown() && base.Kind() == reflect.Interface && reflect.TypeOf(&Raw{}).Implements(base) {
			raw, err := rawFromTree(tag, full)
			if err != nil {
				return reflect.Value{}, err
			}
			iv := reflect.New(base).Elem()
			iv.Set(reflect.ValueOf(raw))
			return iv, nil
		}
		return reflect.Value{}, fmt.Errorf("no type registered for tag %q", tag)
	}

	ch, err := op.FindValueHandler(KeyOfType(elem), h.site)
	if err != nil {
		return reflect.Value{}, err
	}
	v, err := ch.ReadValue(op, NewTreeSource(body))
	if err != nil {
		return reflect.Value{}, err
	}
	if v.CanAddr() {
		if tagged, ok := v.Addr().Interface().(Tagged); ok {
			tagged.SetTag(tag)
		}
	}
	return adaptToBase(v, base)
}

// adaptToBase fits a freshly read concrete value to the declared base type.
func adaptToBase(v reflect.Value, base reflect.Type) (reflect.Value, error) {
	switch {
	case v.Type() == base:
		return v, nil
	case base.Kind() == reflect.Pointer && base.Elem() == v.Type() && v.CanAddr():
		return v.Addr(), nil
	case base.Kind() == reflect.Interface && v.Type().Implements(base):
		iv := reflect.New(base).Elem()
		iv.Set(v)
		return iv, nil
	case base.Kind() == reflect.Interface && v.CanAddr() && reflect.PointerTo(v.Type()).Implements(base):
		iv := reflect.New(base).Elem()
		iv.Set(v.Addr())
		return iv, nil
	default:
		return reflect.Value{}, fmt.Errorf("resolved type %s does not fit declared %s", v.Type(), base)
	}
}

// inbandTag extracts the discriminator a value itself carries, for types
// that travel with their tag in-band instead of a registry entry.
func inbandTag(v reflect.Value) (Tag, bool) {
	if !v.IsValid() {
		return Tag{}, false
	}
	if v.Type().Implements(taggedType) {
		if t := v.Interface().(Tagged).GetTag(); t.Name != "" {
			return t, true
		}
	}
	if v.CanAddr() && reflect.PointerTo(v.Type()).Implements(taggedType) {
		if t := v.Addr().Interface().(Tagged).GetTag(); t.Name != "" {
			return t, true
		}
	}
	return Tag{}, false
}

// rawFromTree preserves an unresolvable document as a canonical Raw fragment.
func rawFromTree(tag Tag, tree map[string]any) (*Raw, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("preserving unknown %q fragment: %w", tag, err)
	}
	canonical, err := jsoncanonicalizer.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing unknown %q fragment: %w", tag, err)
	}
	return &Raw{Tag: tag, Data: canonical}, nil
}

func stripField(m map[string]any, field string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != field {
			out[k] = v
		}
	}
	return out
}
