package databind

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// scalarHandler converts Go's basic kinds. One instance serves one exact
// type, so named scalar types keep their identity through a round trip.
type scalarHandler struct {
	rt reflect.Type
}

func (h *scalarHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		return sink.WriteBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return sink.WriteInt(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return fmt.Errorf("unsigned value %d overflows the document number range", u)
		}
		return sink.WriteInt(int64(u))
	case reflect.Float32, reflect.Float64:
		return sink.WriteFloat(v.Float())
	case reflect.String:
		return sink.WriteString(v.String())
	default:
		return fmt.Errorf("unsupported scalar kind %s", v.Kind())
	}
}

func (h *scalarHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(h.rt).Elem()
	switch h.rt.Kind() {
	case reflect.Bool:
		b, err := src.ReadBool()
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := src.ReadInt()
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("value %d overflows %s", n, h.rt)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := src.ReadInt()
		if err != nil {
			return reflect.Value{}, err
		}
		if n < 0 {
			return reflect.Value{}, fmt.Errorf("value %d is negative, %s is unsigned", n, h.rt)
		}
		if out.OverflowUint(uint64(n)) {
			return reflect.Value{}, fmt.Errorf("value %d overflows %s", n, h.rt)
		}
		out.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, err := src.ReadFloat()
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("value %g overflows %s", f, h.rt)
		}
		out.SetFloat(f)
	case reflect.String:
		s, err := src.ReadString()
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetString(s)
	default:
		return reflect.Value{}, fmt.Errorf("unsupported scalar kind %s", h.rt.Kind())
	}
	return out, nil
}

// bytesHandler converts []byte, which documents carry natively or as base64.
type bytesHandler struct {
	rt reflect.Type
}

func (h *bytesHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if v.IsNil() {
		return sink.WriteNull()
	}
	return sink.WriteBytes(v.Bytes())
}

func (h *bytesHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(h.rt).Elem()
	if src.Kind() == KindNull {
		return out, nil
	}
	b, err := src.ReadBytes()
	if err != nil {
		return reflect.Value{}, err
	}
	out.SetBytes(b)
	return out, nil
}

// timeHandler converts time.Time. With FeatureWriteTimesAsTimestamps times
// travel as UnixMilli numbers; otherwise as text in the configured layout. A
// `layout` struct tag overrides the layout for one member, which makes this
// the canonical contextual handler: the cached instance carries the blueprint
// defaults and ForSite derives per-member variants that are never cached.
type timeHandler struct {
	asMillis bool
	layout   string
}

func (h *timeHandler) ForSite(op *Operation, site Site) (ValueHandler, error) {
	if layout, ok := site.Hint(HintLayout); ok && layout != h.layout {
		return &timeHandler{asMillis: false, layout: layout}, nil
	}
	return h, nil
}

func (h *timeHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	t := v.Interface().(time.Time)
	if h.asMillis {
		return sink.WriteInt(t.UnixMilli())
	}
	loc, err := op.location()
	if err != nil {
		return err
	}
	if loc != nil {
		t = t.In(loc)
	}
	return sink.WriteString(t.Format(h.layout))
}

func (h *timeHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(timeType).Elem()
	switch src.Kind() {
	case KindNull:
		return out, nil
	case KindNumber:
		n, err := src.ReadInt()
		if err != nil {
			return reflect.Value{}, err
		}
		out.Set(reflect.ValueOf(time.UnixMilli(n).UTC()))
		return out, nil
	case KindString:
		s, err := src.ReadString()
		if err != nil {
			return reflect.Value{}, err
		}
		t, err := time.Parse(h.layout, s)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("parsing time %q with layout %q: %w", s, h.layout, err)
		}
		loc, err := op.location()
		if err != nil {
			return reflect.Value{}, err
		}
		if loc != nil {
			t = t.In(loc)
		}
		out.Set(reflect.ValueOf(t))
		return out, nil
	default:
		return reflect.Value{}, fmt.Errorf("cannot read time.Time from a %s document node", src.Kind())
	}
}

// tagScalarHandler converts Tag members, which documents carry in the
// canonical "name" or "name/version" string form.
type tagScalarHandler struct{}

func (tagScalarHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	return sink.WriteString(v.Interface().(Tag).String())
}

func (tagScalarHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	out := reflect.New(tagType).Elem()
	if src.Kind() == KindNull {
		return out, nil
	}
	s, err := src.ReadString()
	if err != nil {
		return reflect.Value{}, err
	}
	tag, err := ParseTag(s)
	if err != nil {
		return reflect.Value{}, err
	}
	out.Set(reflect.ValueOf(tag))
	return out, nil
}

// nullHandler writes untyped nil roots. It is never asked to read; document
// nulls are each handler's own concern.
type nullHandler struct{}

func (nullHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	return sink.WriteNull()
}

func (nullHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	return reflect.Value{}, fmt.Errorf("the null handler cannot read values")
}

// unknownTypeHandler stands in when no handler applies to a type. It fails
// only when invoked, so probing whether a type is convertible stays free of
// conversion-time errors and side effects.
type unknownTypeHandler struct {
	key Key
}

func (h *unknownTypeHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	return h.err()
}

func (h *unknownTypeHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	return reflect.Value{}, h.err()
}

func (h *unknownTypeHandler) err() error {
	return fmt.Errorf("no handler for type %s", h.key)
}
