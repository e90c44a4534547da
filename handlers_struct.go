package databind

import (
	"fmt"
	"reflect"
)

// structHandler converts struct types member-by-member. Construction is
// two-phase: the factory creates the bare instance, then Resolve introspects
// the type, selects the construction strategy and binds member handlers. The
// handler is published to the incomplete-construction tracker before Resolve
// runs, so a member chain that cycles back to this type observes this very
// instance instead of recursing.
type structHandler struct {
	key      Key
	members  []structMember
	byName   map[string]int
	strategy *InstantiationStrategy
	props    []creatorProp
}

type structMember struct {
	Member
	handler ValueHandler
}

type creatorProp struct {
	CreatorProperty
	handler ValueHandler
}

func (h *structHandler) Resolve(op *Operation) error {
	desc, err := op.bp.introspector.Describe(h.key)
	if err != nil {
		return err
	}

	sel := NewStrategySelector(h.key)
	for _, c := range desc.Creators {
		if err := sel.record(c.Kind, c); err != nil {
			return err
		}
	}
	h.strategy = sel.Build()

	h.members = make([]structMember, 0, len(desc.Members))
	h.byName = make(map[string]int, len(desc.Members))
	for _, m := range desc.Members {
		site := Site{Owner: h.key, Member: m.Name, Hints: m.Hints}
		mh, err := op.FindTypedValueHandler(m.Key, site)
		if err != nil {
			return err
		}
		h.byName[m.Name] = len(h.members)
		h.members = append(h.members, structMember{Member: m, handler: mh})
	}

	for _, p := range h.strategy.Properties() {
		ph, err := op.FindTypedValueHandler(p.Key, Site{Owner: h.key, Member: p.Name})
		if err != nil {
			return err
		}
		h.props = append(h.props, creatorProp{CreatorProperty: p, handler: ph})
	}
	return nil
}

func (h *structHandler) WriteValue(op *Operation, sink Sink, v reflect.Value) error {
	if err := sink.BeginObject(); err != nil {
		return err
	}
	if err := h.writeBody(op, sink, v); err != nil {
		return err
	}
	return sink.EndObject()
}

func (h *structHandler) writeBody(op *Operation, sink Sink, v reflect.Value) error {
	for _, m := range h.members {
		fv, ok := fieldByIndexRead(v, m.Index)
		if !ok {
			// A nil embedded pointer leaves its promoted members absent.
			continue
		}
		if m.OmitEmpty && isEmptyValue(fv) {
			continue
		}
		if fv.Type() == tagType && fv.IsZero() {
			// A zero discriminator member carries no information; for
			// registered types the tagged wrapper injects the canonical tag.
			continue
		}
		if err := sink.FieldName(m.Name); err != nil {
			return err
		}
		if err := m.handler.WriteValue(op, sink, fv); err != nil {
			return err
		}
	}
	return nil
}

func (h *structHandler) ReadValue(op *Operation, src Source) (reflect.Value, error) {
	switch src.Kind() {
	case KindNull:
		return reflect.New(h.key.Raw()).Elem(), nil
	case KindObject:
		return h.readObject(op, src)
	case KindString:
		if h.strategy.HasText() {
			s, err := src.ReadString()
			if err != nil {
				return reflect.Value{}, err
			}
			return h.strategy.FromText(s)
		}
		return h.readDelegate(op, src, KindString)
	case KindNumber:
		if n, err := src.ReadInt(); err == nil && h.strategy.HasInteger() {
			return h.strategy.FromInteger(n)
		}
		if h.strategy.HasDouble() {
			f, err := src.ReadFloat()
			if err != nil {
				return reflect.Value{}, err
			}
			return h.strategy.FromDouble(f)
		}
		return h.readDelegate(op, src, KindNumber)
	case KindBool:
		if h.strategy.HasBool() {
			b, err := src.ReadBool()
			if err != nil {
				return reflect.Value{}, err
			}
			return h.strategy.FromBool(b)
		}
		return h.readDelegate(op, src, KindBool)
	default:
		return h.readDelegate(op, src, src.Kind())
	}
}

func (h *structHandler) readObject(op *Operation, src Source) (reflect.Value, error) {
	consumed := map[string]bool{}
	var inst reflect.Value
	var err error

	// An explicit delegating creator takes over whole-object conversion;
	// otherwise fields feed the property-based creator or a default instance.
	switch _, delegated := h.strategy.DelegateKey(); {
	case h.strategy.HasProperties():
		args := make([]reflect.Value, len(h.props))
		for i, p := range h.props {
			ok, ferr := src.Field(p.Name)
			if ferr != nil {
				return reflect.Value{}, ferr
			}
			if ok {
				av, rerr := p.handler.ReadValue(op, src)
				src.Leave()
				if rerr != nil {
					return reflect.Value{}, rerr
				}
				args[i] = av
			} else {
				args[i] = reflect.Zero(p.Key.Raw())
			}
			consumed[p.Name] = true
		}
		inst, err = h.strategy.FromProperties(args)
	case delegated:
		return h.readDelegate(op, src, KindObject)
	case h.strategy.HasDefault():
		inst, err = h.strategy.CreateDefault()
	default:
		return reflect.Value{}, fmt.Errorf("no construction path for %s from an object document", h.key)
	}
	if err != nil {
		return reflect.Value{}, err
	}

	fields, err := src.Fields()
	if err != nil {
		return reflect.Value{}, err
	}
	for _, name := range fields {
		if consumed[name] {
			continue
		}
		j, ok := h.byName[name]
		if !ok {
			if op.bp.cfg.Enabled(FeatureFailOnUnknownFields) {
				return reflect.Value{}, fmt.Errorf("unknown field %q for %s", name, h.key)
			}
			continue
		}
		m := h.members[j]
		if _, err := src.Field(name); err != nil {
			return reflect.Value{}, err
		}
		mv, err := m.handler.ReadValue(op, src)
		src.Leave()
		if err != nil {
			return reflect.Value{}, err
		}
		slot, err := fieldByIndexWrite(inst, m.Index)
		if err != nil {
			return reflect.Value{}, err
		}
		slot.Set(mv)
	}
	return inst, nil
}

func (h *structHandler) readDelegate(op *Operation, src Source, shape NodeKind) (reflect.Value, error) {
	dk, ok := h.strategy.DelegateKey()
	if !ok {
		return reflect.Value{}, fmt.Errorf("cannot construct %s from a %s document node", h.key, shape)
	}
	dh, err := op.FindTypedValueHandler(dk, Site{Owner: h.key})
	if err != nil {
		return reflect.Value{}, err
	}
	dv, err := dh.ReadValue(op, src)
	if err != nil {
		return reflect.Value{}, err
	}
	return h.strategy.FromDelegate(dv)
}

// fieldByIndexRead walks an index path for reading, reporting false when a
// nil embedded pointer interrupts it.
func fieldByIndexRead(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 {
			if v.Kind() == reflect.Pointer {
				if v.IsNil() {
					return reflect.Value{}, false
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v, true
}

// fieldByIndexWrite walks an index path for writing, allocating nil embedded
// pointers on the way.
func fieldByIndexWrite(v reflect.Value, index []int) (reflect.Value, error) {
	for i, x := range index {
		if i > 0 {
			if v.Kind() == reflect.Pointer {
				if v.IsNil() {
					if !v.CanSet() {
						return reflect.Value{}, fmt.Errorf("cannot allocate embedded %s", v.Type())
					}
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v, nil
}

// isEmptyValue mirrors the emptiness rule of encoding/json's omitempty.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	default:
		return false
	}
}
