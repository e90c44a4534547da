package databind

import (
	"encoding"
	"reflect"
	"time"
)

var (
	timeType         = reflect.TypeOf(time.Time{})
	byteType         = reflect.TypeOf(byte(0))
	anyType          = reflect.TypeOf((*any)(nil)).Elem()
	tagType          = reflect.TypeOf(Tag{})
	rawType          = reflect.TypeOf(Raw{})
	unstructuredType = reflect.TypeOf(Unstructured{})

	taggedType          = reflect.TypeOf((*Tagged)(nil)).Elem()
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// stdFactory builds the built-in handler set. It is stateless: everything a
// handler needs at construction time comes from the operation's blueprint,
// and returned handlers are unresolved, the provider runs their second pass.
type stdFactory struct{}

func (stdFactory) CreateValueHandler(op *Operation, key Key, site Site) (ValueHandler, error) {
	rt := key.Raw()
	if rt == nil {
		return nil, nil
	}

	switch rt {
	case timeType:
		return &timeHandler{
			asMillis: op.bp.cfg.Enabled(FeatureWriteTimesAsTimestamps),
			layout:   op.bp.cfg.TimeLayout,
		}, nil
	case tagType:
		return tagScalarHandler{}, nil
	case rawType:
		return rawHandler{}, nil
	case unstructuredType:
		return unstructuredHandler{}, nil
	}

	switch rt.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return &scalarHandler{rt: rt}, nil
	case reflect.Slice:
		if rt.Elem() == byteType {
			return &bytesHandler{rt: rt}, nil
		}
		return &sliceHandler{key: key}, nil
	case reflect.Array:
		return &arrayHandler{key: key}, nil
	case reflect.Map:
		return &mapHandler{key: key}, nil
	case reflect.Pointer:
		return &ptrHandler{key: key}, nil
	case reflect.Struct:
		return &structHandler{key: key}, nil
	case reflect.Interface:
		if rt.NumMethod() == 0 {
			return anyHandler{}, nil
		}
		return &ifaceHandler{key: key}, nil
	default:
		// Chan, Func and friends have no document form.
		return nil, nil
	}
}

// CreateTagHandler returns a discriminator handler for declared interface
// types and for concrete types present in the tag registry. Everything else
// converts without a discriminator.
func (stdFactory) CreateTagHandler(op *Operation, key Key) (*TagHandler, error) {
	rt := key.Raw()
	if rt == nil {
		return nil, nil
	}
	if rt.Kind() == reflect.Interface {
		if rt.NumMethod() == 0 {
			return nil, nil
		}
		return NewTagHandler(key, op.bp.cfg.TagField), nil
	}
	elem := rt
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Struct {
		if _, err := op.bp.tags.TagForType(elem); err == nil {
			return NewTagHandler(key, op.bp.cfg.TagField), nil
		}
	}
	return nil, nil
}

func (stdFactory) CreateKeyHandler(op *Operation, key Key) (KeyHandler, error) {
	rt := key.Raw()
	if rt == nil {
		return nil, nil
	}
	if rt.Implements(textMarshalerType) || reflect.PointerTo(rt).Implements(textMarshalerType) {
		if reflect.PointerTo(rt).Implements(textUnmarshalerType) {
			return &textKeyHandler{rt: rt}, nil
		}
	}
	switch rt.Kind() {
	case reflect.String:
		return &stringKeyHandler{rt: rt}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &intKeyHandler{rt: rt}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return &uintKeyHandler{rt: rt}, nil
	default:
		return nil, nil
	}
}
