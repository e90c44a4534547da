package databind

import (
	"encoding/json"
)

// Unstructured is a schema-free document object backed by a plain tree. It is
// what unknown or deliberately untyped object values decode into, and it
// carries its discriminator tag in-band under the default tag field.
type Unstructured struct {
	Data map[string]any `json:"-"`
}

var _ interface {
	json.Marshaler
	json.Unmarshaler
	Tagged
} = &Unstructured{}

// NewUnstructured creates an empty Unstructured.
func NewUnstructured() Unstructured {
	return Unstructured{
		Data: make(map[string]any),
	}
}

func (u Unstructured) SetTag(t Tag) {
	u.Data[defaultTagField] = t.String()
}

func (u Unstructured) GetTag() Tag {
	switch v := u.Data[defaultTagField].(type) {
	case string:
		t, err := ParseTag(v)
		if err != nil {
			return Tag{}
		}
		return t
	case Tag:
		return v
	default:
		return Tag{}
	}
}

// Get reads a typed value out of an Unstructured.
func Get[T any](u Unstructured, key string) (T, bool) {
	v, ok := u.Data[key]
	if !ok {
		return *new(T), false
	}
	t, ok := v.(T)
	return t, ok
}

// DeepCopy clones the Unstructured including all nested containers.
func (u Unstructured) DeepCopy() Unstructured {
	out := make(map[string]any, len(u.Data))
	for k, v := range u.Data {
		out[k] = deepCopyTree(v)
	}
	return Unstructured{Data: out}
}

func (u Unstructured) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Data)
}

func (u *Unstructured) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &u.Data)
}

// deepCopyTree copies a document tree. Scalars are immutable and returned
// as-is; objects, arrays and byte slices are cloned.
func deepCopyTree(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = deepCopyTree(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopyTree(e)
		}
		return out
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}
