package databind

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type temperature struct {
	Celsius float64
}

type petRecord struct {
	Name string
	Age  int64
}

func TestStrategySelectorRecordAndBuild(t *testing.T) {
	r := require.New(t)

	sel := NewStrategySelector(KeyOf[temperature]())
	r.NoError(sel.RecordDefault(CreatorCandidate{Mechanism: MechanismDerived}))
	r.NoError(sel.RecordText(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn: func(s string) (temperature, error) {
			f, err := strconv.ParseFloat(strings.TrimSuffix(s, "C"), 64)
			if err != nil {
				return temperature{}, fmt.Errorf("parsing temperature %q: %w", s, err)
			}
			return temperature{Celsius: f}, nil
		},
	}))
	r.NoError(sel.RecordDouble(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn:        func(f float64) temperature { return temperature{Celsius: f} },
	}))

	st := sel.Build()
	r.True(st.CanInstantiate())
	r.True(st.HasDefault())
	r.True(st.HasText())
	r.True(st.HasDouble())
	r.False(st.HasBool())

	v, err := st.CreateDefault()
	r.NoError(err)
	assert.Equal(t, temperature{}, v.Interface())
	r.True(v.CanAddr())

	v, err = st.FromText("21.5C")
	r.NoError(err)
	assert.Equal(t, temperature{Celsius: 21.5}, v.Interface())

	_, err = st.FromText("warm")
	r.ErrorContains(err, "parsing temperature")

	v, err = st.FromDouble(-40)
	r.NoError(err)
	assert.Equal(t, temperature{Celsius: -40}, v.Interface())

	_, err = st.FromBool(true)
	r.ErrorContains(err, "no bool creator")
}

func TestStrategySelectorDuplicateSameMechanism(t *testing.T) {
	r := require.New(t)

	sel := NewStrategySelector(KeyOf[temperature]())
	r.NoError(sel.RecordText(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn:        func(s string) temperature { return temperature{} },
	}))

	err := sel.RecordText(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn:        func(s string) temperature { return temperature{Celsius: 1} },
	})
	r.Error(err)
	var dup *DuplicateConstructionStrategyError
	r.ErrorAs(err, &dup)
	assert.Equal(t, CreatorText, dup.Kind)
	assert.Equal(t, KeyOf[temperature](), dup.Key)
}

func TestStrategySelectorCrossMechanismNewerWins(t *testing.T) {
	r := require.New(t)

	sel := NewStrategySelector(KeyOf[temperature]())
	r.NoError(sel.RecordDefault(CreatorCandidate{Mechanism: MechanismDerived}))
	r.NoError(sel.RecordDefault(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn:        func() temperature { return temperature{Celsius: 36.6} },
	}))

	v, err := sel.Build().CreateDefault()
	r.NoError(err)
	assert.Equal(t, temperature{Celsius: 36.6}, v.Interface(), "registered candidate must replace the derived one")

	// The other direction replaces as well: later registration overrides.
	r.NoError(sel.RecordDefault(CreatorCandidate{Mechanism: MechanismDerived}))
	v, err = sel.Build().CreateDefault()
	r.NoError(err)
	assert.Equal(t, temperature{}, v.Interface())
}

func TestStrategySelectorValidation(t *testing.T) {
	sel := NewStrategySelector(KeyOf[temperature]())

	tests := []struct {
		name    string
		record  func() error
		wantErr string
	}{
		{
			name:    "not a function",
			record:  func() error { return sel.RecordText(CreatorCandidate{Fn: "nope"}) },
			wantErr: "must be a function",
		},
		{
			name: "wrong argument type",
			record: func() error {
				return sel.RecordText(CreatorCandidate{Fn: func(n int) temperature { return temperature{} }})
			},
			wantErr: "argument 0 must be string",
		},
		{
			name: "wrong second return",
			record: func() error {
				return sel.RecordText(CreatorCandidate{Fn: func(s string) (temperature, string) { return temperature{}, "" }})
			},
			wantErr: "second return must be error",
		},
		{
			name: "wrong target type",
			record: func() error {
				return sel.RecordText(CreatorCandidate{Fn: func(s string) petRecord { return petRecord{} }})
			},
			wantErr: "want databind.temperature",
		},
		{
			name: "missing function",
			record: func() error {
				return sel.RecordBool(CreatorCandidate{})
			},
			wantErr: "requires a function",
		},
		{
			name: "property name count mismatch",
			record: func() error {
				return sel.RecordProperties(CreatorCandidate{
					Fn:    func(a string, b float64) temperature { return temperature{} },
					Props: []string{"only-one"},
				})
			},
			wantErr: "2 arguments but 1 property names",
		},
		{
			name: "delegating arity",
			record: func() error {
				return sel.RecordDelegating(CreatorCandidate{Fn: func(a, b string) temperature { return temperature{} }})
			},
			wantErr: "exactly one argument",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.record()
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestStrategyPointerReturnNormalized(t *testing.T) {
	r := require.New(t)

	sel := NewStrategySelector(KeyOf[petRecord]())
	r.NoError(sel.RecordText(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn:        func(s string) *petRecord { return &petRecord{Name: s} },
	}))

	v, err := sel.Build().FromText("rex")
	r.NoError(err)
	r.Equal(KeyOf[petRecord]().Raw(), v.Type())
	assert.Equal(t, petRecord{Name: "rex"}, v.Interface())
	r.True(v.CanAddr())
}

func TestStrategyIntegerPrefersIntCandidate(t *testing.T) {
	r := require.New(t)

	sel := NewStrategySelector(KeyOf[petRecord]())
	r.NoError(sel.RecordInt(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn:        func(n int) petRecord { return petRecord{Name: "int", Age: int64(n)} },
	}))
	r.NoError(sel.RecordLong(CreatorCandidate{
		Mechanism: MechanismDerived,
		Fn:        func(n int64) petRecord { return petRecord{Name: "long", Age: n} },
	}))

	st := sel.Build()
	r.True(st.HasInteger())
	v, err := st.FromInteger(7)
	r.NoError(err)
	assert.Equal(t, petRecord{Name: "int", Age: 7}, v.Interface())
}

func TestStrategyDelegatingAndProperties(t *testing.T) {
	r := require.New(t)

	sel := NewStrategySelector(KeyOf[petRecord]())
	r.NoError(sel.RecordDelegating(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn:        func(name string) petRecord { return petRecord{Name: name} },
	}))
	r.NoError(sel.RecordProperties(CreatorCandidate{
		Mechanism: MechanismRegistered,
		Fn:        func(name string, age int64) petRecord { return petRecord{Name: name, Age: age} },
		Props:     []string{"name", "age"},
	}))

	st := sel.Build()

	dk, ok := st.DelegateKey()
	r.True(ok)
	assert.Equal(t, KeyOf[string](), dk)

	v, err := st.FromDelegate(reflect.ValueOf("bella"))
	r.NoError(err)
	assert.Equal(t, petRecord{Name: "bella"}, v.Interface())

	props := st.Properties()
	r.Len(props, 2)
	assert.Equal(t, CreatorProperty{Name: "name", Key: KeyOf[string]()}, props[0])
	assert.Equal(t, CreatorProperty{Name: "age", Key: KeyOf[int64]()}, props[1])

	v, err = st.FromProperties([]reflect.Value{reflect.ValueOf("milo"), reflect.ValueOf(int64(3))})
	r.NoError(err)
	assert.Equal(t, petRecord{Name: "milo", Age: 3}, v.Interface())
}

func TestCreatorRegistryEagerDuplicate(t *testing.T) {
	r := require.New(t)

	reg := newCreatorRegistry()
	key := KeyOf[petRecord]()
	r.NoError(reg.record(key, CreatorText, CreatorCandidate{
		Fn: func(s string) petRecord { return petRecord{Name: s} },
	}))

	err := reg.record(key, CreatorText, CreatorCandidate{
		Fn: func(s string) petRecord { return petRecord{Name: strings.ToUpper(s)} },
	})
	var dup *DuplicateConstructionStrategyError
	r.ErrorAs(err, &dup)

	got := reg.registered(key)
	r.Len(got, 1)
	assert.Equal(t, CreatorText, got[0].Kind)
	assert.Equal(t, MechanismRegistered, got[0].Mechanism)
}
