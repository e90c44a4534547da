package databind

import (
	"fmt"
	"reflect"
	"strings"
)

// HintLayout is the site hint carrying a member-specific time layout. It is
// populated from a `layout:"..."` struct tag and consumed by the time handler
// when times are written as text.
const HintLayout = "layout"

// Member is one document field of an object type, as discovered by an
// Introspector.
type Member struct {
	// Name is the document field name after struct tag renames.
	Name string
	// Index is the reflect field index path from the owning struct, crossing
	// promoted embedded structs.
	Index []int
	// Key is the member's declared type.
	Key Key
	// OmitEmpty marks members skipped on write when their value is empty.
	OmitEmpty bool
	// Hints carries member-scoped handler hints taken from struct tags.
	Hints map[string]string
}

// TypeDescription is everything the resolution layer needs to know about an
// object type: its document fields, the ways a value can be constructed, and
// the discriminator tag when the type takes part in polymorphic conversion.
type TypeDescription struct {
	Key     Key
	Members []Member
	// Creators lists construction candidates with derived ones first, so a
	// later registered candidate of the same kind replaces them during
	// strategy selection.
	Creators []CreatorCandidate
	// Tag is zero when the type is not registered for polymorphic use.
	Tag Tag
}

// Introspector turns a type into its structural description. Implementations
// must be safe for concurrent use; descriptions are computed during handler
// construction and the results live inside cached handlers.
type Introspector interface {
	Describe(key Key) (*TypeDescription, error)
}

// reflectIntrospector is the default Introspector. It reads `json` struct
// tags for naming, promotes embedded structs the way encoding/json does, and
// merges explicitly registered creators over a derived zero-value default.
type reflectIntrospector struct {
	tags     *TagRegistry
	creators *creatorRegistry
}

func newReflectIntrospector(tags *TagRegistry, creators *creatorRegistry) *reflectIntrospector {
	return &reflectIntrospector{tags: tags, creators: creators}
}

func (in *reflectIntrospector) Describe(key Key) (*TypeDescription, error) {
	rt := key.Raw()
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot introspect %s: not a struct type", key)
	}

	desc := &TypeDescription{Key: key, Members: structMembers(rt)}

	desc.Creators = append(desc.Creators, CreatorCandidate{Kind: CreatorDefault, Mechanism: MechanismDerived})
	if in.creators != nil {
		desc.Creators = append(desc.Creators, in.creators.registered(key)...)
	}
	if in.tags != nil {
		if tag, err := in.tags.TagForType(rt); err == nil {
			desc.Tag = tag
		}
	}
	return desc, nil
}

// structMembers walks the exported fields of rt, applying json tag renames
// and promoting embedded structs. On a name collision the shallower member
// wins; at equal depth the first declared one does.
func structMembers(rt reflect.Type) []Member {
	var out []Member
	byName := map[string]int{}

	var walk func(rt reflect.Type, prefix []int)
	walk = func(rt reflect.Type, prefix []int) {
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if f.Anonymous {
				ft := f.Type
				if ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				// Embedded fields of unexported struct types still carry
				// promotable exported members; other unexported embeds do not.
				if !f.IsExported() && ft.Kind() != reflect.Struct {
					continue
				}
			} else if !f.IsExported() {
				continue
			}
			tag := f.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name, omitEmpty := parseJSONTag(tag)

			// Embedded structs without an explicit name are promoted. The
			// index path may cross a pointer field; readers allocate it on
			// demand and writers treat a nil pointer as all members absent.
			if f.Anonymous && name == "" {
				ft := f.Type
				if ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if ft.Kind() == reflect.Struct {
					walk(ft, append(append([]int(nil), prefix...), i))
					continue
				}
			}
			if !f.IsExported() {
				// A tagged unexported embed would need a settable member of
				// an inaccessible type; treat it like any unexported field.
				continue
			}
			if name == "" {
				name = f.Name
			}

			m := Member{
				Name:      name,
				Index:     append(append([]int(nil), prefix...), i),
				Key:       KeyOfType(f.Type),
				OmitEmpty: omitEmpty,
				Hints:     memberHints(f.Tag),
			}
			if j, ok := byName[name]; ok {
				if len(m.Index) < len(out[j].Index) {
					out[j] = m
				}
				continue
			}
			byName[name] = len(out)
			out = append(out, m)
		}
	}
	walk(rt, nil)
	return out
}

func parseJSONTag(tag string) (name string, omitEmpty bool) {
	if tag == "" {
		return "", false
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}

func memberHints(tag reflect.StructTag) map[string]string {
	layout, ok := tag.Lookup(HintLayout)
	if !ok {
		return nil
	}
	return map[string]string{HintLayout: layout}
}
