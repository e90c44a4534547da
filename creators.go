package databind

import (
	"fmt"
	"reflect"
	"sync"
)

// CreatorKind identifies the category a construction candidate belongs to.
// Each kind corresponds to one document shape a value can be built from.
type CreatorKind int

const (
	// CreatorDefault builds a value from no input at all.
	CreatorDefault CreatorKind = iota
	// CreatorText builds a value from a string node.
	CreatorText
	// CreatorInt builds a value from an integral number node via int.
	CreatorInt
	// CreatorLong builds a value from an integral number node via int64.
	CreatorLong
	// CreatorDouble builds a value from a fractional number node.
	CreatorDouble
	// CreatorBool builds a value from a boolean node.
	CreatorBool
	// CreatorDelegating builds a value from one already-read delegate value.
	CreatorDelegating
	// CreatorProperties builds a value from named document fields.
	CreatorProperties

	numCreatorKinds = int(CreatorProperties) + 1
)

// String returns the human readable name used in duplicate-creator errors.
func (k CreatorKind) String() string {
	switch k {
	case CreatorDefault:
		return "default"
	case CreatorText:
		return "text"
	case CreatorInt:
		return "int"
	case CreatorLong:
		return "long"
	case CreatorDouble:
		return "double"
	case CreatorBool:
		return "bool"
	case CreatorDelegating:
		return "delegating"
	case CreatorProperties:
		return "property-based"
	default:
		return fmt.Sprintf("creator(%d)", int(k))
	}
}

// CreatorMechanism records how a candidate entered the selector. Candidates
// derived from type shape rank below candidates registered by a caller.
type CreatorMechanism int

const (
	// MechanismDerived marks candidates the introspector produced on its own.
	MechanismDerived CreatorMechanism = iota
	// MechanismRegistered marks candidates a caller registered explicitly.
	MechanismRegistered
)

func (m CreatorMechanism) String() string {
	if m == MechanismRegistered {
		return "registered"
	}
	return "derived"
}

// CreatorCandidate is one way to construct values of a target type. Fn is a
// function whose final shape depends on the kind it is recorded under:
//
//	default:    func() T
//	text:       func(string) T
//	int:        func(int) T
//	long:       func(int64) T
//	double:     func(float64) T
//	bool:       func(bool) T
//	delegating: func(D) T for any delegate type D
//	properties: func(a A, b B, ...) T with Props naming each parameter
//
// Every shape may also return (T, error). T may be the target type itself or
// a pointer to it. A default candidate with a nil Fn stands for plain zero
// value construction.
type CreatorCandidate struct {
	Kind      CreatorKind
	Mechanism CreatorMechanism
	Fn        any
	// Props names the document fields feeding a property-based candidate, in
	// parameter order.
	Props []string

	fn      reflect.Value
	returns reflect.Type
	hasErr  bool
}

// target reports the non-pointer type the candidate produces.
func (c *CreatorCandidate) target() reflect.Type {
	t := c.returns
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// validate checks the candidate function against the shape its kind demands
// and caches the reflective call data.
func (c *CreatorCandidate) validate() error {
	if c.Fn == nil {
		if c.Kind == CreatorDefault {
			return nil
		}
		return fmt.Errorf("%s creator requires a function", c.Kind)
	}
	c.fn = reflect.ValueOf(c.Fn)
	ft := c.fn.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("%s creator must be a function, got %T", c.Kind, c.Fn)
	}
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errType {
			return fmt.Errorf("%s creator second return must be error, got %s", c.Kind, ft.Out(1))
		}
		c.hasErr = true
	default:
		return fmt.Errorf("%s creator must return the value or the value and an error", c.Kind)
	}
	c.returns = ft.Out(0)

	var want []reflect.Type
	switch c.Kind {
	case CreatorDefault:
		want = nil
	case CreatorText:
		want = []reflect.Type{reflect.TypeOf("")}
	case CreatorInt:
		want = []reflect.Type{reflect.TypeOf(int(0))}
	case CreatorLong:
		want = []reflect.Type{reflect.TypeOf(int64(0))}
	case CreatorDouble:
		want = []reflect.Type{reflect.TypeOf(float64(0))}
	case CreatorBool:
		want = []reflect.Type{reflect.TypeOf(false)}
	case CreatorDelegating:
		if ft.NumIn() != 1 {
			return fmt.Errorf("delegating creator must take exactly one argument, got %d", ft.NumIn())
		}
		return nil
	case CreatorProperties:
		if ft.NumIn() == 0 {
			return fmt.Errorf("property-based creator must take at least one argument")
		}
		if len(c.Props) != ft.NumIn() {
			return fmt.Errorf("property-based creator takes %d arguments but %d property names were given", ft.NumIn(), len(c.Props))
		}
		for i, p := range c.Props {
			if p == "" {
				return fmt.Errorf("property-based creator argument %d has an empty property name", i)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown creator kind %d", int(c.Kind))
	}
	if ft.NumIn() != len(want) {
		return fmt.Errorf("%s creator must take %d argument(s), got %d", c.Kind, len(want), ft.NumIn())
	}
	for i, w := range want {
		if ft.In(i) != w {
			return fmt.Errorf("%s creator argument %d must be %s, got %s", c.Kind, i, w, ft.In(i))
		}
	}
	return nil
}

// call invokes the candidate and normalizes the result to an addressable
// value of the target type.
func (c *CreatorCandidate) call(args []reflect.Value) (reflect.Value, error) {
	out := c.fn.Call(args)
	if c.hasErr && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	v := out[0]
	if v.Kind() == reflect.Pointer && v.Type().Elem() == c.target() {
		if v.IsNil() {
			return reflect.New(c.target()).Elem(), nil
		}
		v = v.Elem()
	}
	if !v.CanAddr() {
		addr := reflect.New(v.Type()).Elem()
		addr.Set(v)
		v = addr
	}
	return v, nil
}

// StrategySelector accumulates construction candidates for one target type
// and arbitrates collisions: two candidates of the same kind and the same
// mechanism are a configuration error, while a candidate recorded later
// replaces an earlier one of the same kind from a different mechanism.
type StrategySelector struct {
	key   Key
	slots [numCreatorKinds]*CreatorCandidate
}

// NewStrategySelector returns an empty selector for the given target type.
func NewStrategySelector(key Key) *StrategySelector {
	return &StrategySelector{key: key}
}

// RecordDefault records a no-argument candidate.
func (s *StrategySelector) RecordDefault(c CreatorCandidate) error {
	return s.record(CreatorDefault, c)
}

// RecordText records a string-scalar candidate.
func (s *StrategySelector) RecordText(c CreatorCandidate) error {
	return s.record(CreatorText, c)
}

// RecordInt records an int-scalar candidate.
func (s *StrategySelector) RecordInt(c CreatorCandidate) error {
	return s.record(CreatorInt, c)
}

// RecordLong records an int64-scalar candidate.
func (s *StrategySelector) RecordLong(c CreatorCandidate) error {
	return s.record(CreatorLong, c)
}

// RecordDouble records a float64-scalar candidate.
func (s *StrategySelector) RecordDouble(c CreatorCandidate) error {
	return s.record(CreatorDouble, c)
}

// RecordBool records a bool-scalar candidate.
func (s *StrategySelector) RecordBool(c CreatorCandidate) error {
	return s.record(CreatorBool, c)
}

// RecordDelegating records a candidate fed by one already-read value.
func (s *StrategySelector) RecordDelegating(c CreatorCandidate) error {
	return s.record(CreatorDelegating, c)
}

// RecordProperties records a candidate fed by named document fields.
func (s *StrategySelector) RecordProperties(c CreatorCandidate) error {
	return s.record(CreatorProperties, c)
}

func (s *StrategySelector) record(kind CreatorKind, c CreatorCandidate) error {
	c.Kind = kind
	if err := c.validate(); err != nil {
		return err
	}
	if kind == CreatorProperties {
		seen := make(map[string]bool, len(c.Props))
		for _, p := range c.Props {
			if seen[p] {
				return &DuplicatePropertyBindingError{Key: s.key, Property: p}
			}
			seen[p] = true
		}
	}
	if c.Fn != nil && !s.key.IsZero() && c.target() != s.key.Raw() {
		return fmt.Errorf("%s creator returns %s, want %s", kind, c.target(), s.key)
	}
	if prev := s.slots[kind]; prev != nil {
		if prev.Mechanism == c.Mechanism {
			return &DuplicateConstructionStrategyError{Key: s.key, Kind: kind}
		}
		// Cross-mechanism collision: the newer candidate wins.
	}
	s.slots[kind] = &c
	return nil
}

// candidates returns the surviving candidates in kind order.
func (s *StrategySelector) candidates() []CreatorCandidate {
	out := make([]CreatorCandidate, 0, numCreatorKinds)
	for _, c := range s.slots {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Build finalizes the recorded candidates into an immutable strategy.
func (s *StrategySelector) Build() *InstantiationStrategy {
	st := &InstantiationStrategy{key: s.key}
	copy(st.slots[:], s.slots[:])
	return st
}

// CreatorProperty describes one parameter of a property-based candidate.
type CreatorProperty struct {
	Name string
	Key  Key
}

// InstantiationStrategy is the built, read-only result of strategy selection.
// The struct handler consults it to turn document shapes into fresh values.
type InstantiationStrategy struct {
	key   Key
	slots [numCreatorKinds]*CreatorCandidate
}

// CanInstantiate reports whether any construction path exists at all.
func (st *InstantiationStrategy) CanInstantiate() bool {
	for _, c := range st.slots {
		if c != nil {
			return true
		}
	}
	return false
}

// HasDefault reports whether a no-argument path exists.
func (st *InstantiationStrategy) HasDefault() bool {
	return st.slots[CreatorDefault] != nil
}

// HasText reports whether a string-scalar path exists.
func (st *InstantiationStrategy) HasText() bool { return st.slots[CreatorText] != nil }

// HasInteger reports whether an integral-number path exists.
func (st *InstantiationStrategy) HasInteger() bool {
	return st.slots[CreatorInt] != nil || st.slots[CreatorLong] != nil
}

// HasDouble reports whether a fractional-number path exists.
func (st *InstantiationStrategy) HasDouble() bool { return st.slots[CreatorDouble] != nil }

// HasBool reports whether a boolean path exists.
func (st *InstantiationStrategy) HasBool() bool { return st.slots[CreatorBool] != nil }

// HasProperties reports whether a named-fields path exists.
func (st *InstantiationStrategy) HasProperties() bool { return st.slots[CreatorProperties] != nil }

// DelegateKey returns the declared type the delegating candidate consumes.
func (st *InstantiationStrategy) DelegateKey() (Key, bool) {
	c := st.slots[CreatorDelegating]
	if c == nil {
		return Key{}, false
	}
	return KeyOfType(c.fn.Type().In(0)), true
}

// Properties lists the parameters of the property-based candidate in order.
func (st *InstantiationStrategy) Properties() []CreatorProperty {
	c := st.slots[CreatorProperties]
	if c == nil {
		return nil
	}
	ft := c.fn.Type()
	out := make([]CreatorProperty, ft.NumIn())
	for i := range out {
		out[i] = CreatorProperty{Name: c.Props[i], Key: KeyOfType(ft.In(i))}
	}
	return out
}

// CreateDefault builds a value from no input. A derived candidate without a
// function yields the addressable zero value.
func (st *InstantiationStrategy) CreateDefault() (reflect.Value, error) {
	c := st.slots[CreatorDefault]
	if c == nil {
		return reflect.Value{}, fmt.Errorf("no default creator for %s", st.key)
	}
	if c.Fn == nil {
		return reflect.New(st.key.Raw()).Elem(), nil
	}
	return c.call(nil)
}

// FromText builds a value from a string node.
func (st *InstantiationStrategy) FromText(s string) (reflect.Value, error) {
	c := st.slots[CreatorText]
	if c == nil {
		return reflect.Value{}, fmt.Errorf("no text creator for %s", st.key)
	}
	return c.call([]reflect.Value{reflect.ValueOf(s)})
}

// FromInteger builds a value from an integral number node, preferring the
// int-shaped candidate over the int64-shaped one.
func (st *InstantiationStrategy) FromInteger(n int64) (reflect.Value, error) {
	if c := st.slots[CreatorInt]; c != nil {
		return c.call([]reflect.Value{reflect.ValueOf(int(n))})
	}
	if c := st.slots[CreatorLong]; c != nil {
		return c.call([]reflect.Value{reflect.ValueOf(n)})
	}
	return reflect.Value{}, fmt.Errorf("no integer creator for %s", st.key)
}

// FromDouble builds a value from a fractional number node.
func (st *InstantiationStrategy) FromDouble(f float64) (reflect.Value, error) {
	c := st.slots[CreatorDouble]
	if c == nil {
		return reflect.Value{}, fmt.Errorf("no double creator for %s", st.key)
	}
	return c.call([]reflect.Value{reflect.ValueOf(f)})
}

// FromBool builds a value from a boolean node.
func (st *InstantiationStrategy) FromBool(b bool) (reflect.Value, error) {
	c := st.slots[CreatorBool]
	if c == nil {
		return reflect.Value{}, fmt.Errorf("no bool creator for %s", st.key)
	}
	return c.call([]reflect.Value{reflect.ValueOf(b)})
}

// FromDelegate builds a value from one already-read delegate value.
func (st *InstantiationStrategy) FromDelegate(v reflect.Value) (reflect.Value, error) {
	c := st.slots[CreatorDelegating]
	if c == nil {
		return reflect.Value{}, fmt.Errorf("no delegating creator for %s", st.key)
	}
	return c.call([]reflect.Value{v})
}

// FromProperties builds a value from field values aligned with Properties.
func (st *InstantiationStrategy) FromProperties(args []reflect.Value) (reflect.Value, error) {
	c := st.slots[CreatorProperties]
	if c == nil {
		return reflect.Value{}, fmt.Errorf("no property-based creator for %s", st.key)
	}
	return c.call(args)
}

// creatorRegistry keeps the explicitly registered candidates per target type.
// Same-kind collisions between registered candidates fail here, at
// registration time, so misconfiguration surfaces before any conversion runs.
type creatorRegistry struct {
	mu  sync.RWMutex
	sel map[Key]*StrategySelector
}

func newCreatorRegistry() *creatorRegistry {
	return &creatorRegistry{sel: map[Key]*StrategySelector{}}
}

func (r *creatorRegistry) record(key Key, kind CreatorKind, c CreatorCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sel := r.sel[key]
	if sel == nil {
		sel = NewStrategySelector(key)
		r.sel[key] = sel
	}
	c.Mechanism = MechanismRegistered
	return sel.record(kind, c)
}

// registered returns the surviving registered candidates for the type.
func (r *creatorRegistry) registered(key Key) []CreatorCandidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sel := r.sel[key]
	if sel == nil {
		return nil
	}
	return sel.candidates()
}
