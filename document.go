package databind

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Sink is the token-level write surface handlers emit documents into.
// Handlers never produce wire bytes themselves; a Sink implementation decides
// what the tokens become (this package builds in-memory trees, codecs turn
// trees into bytes).
type Sink interface {
	WriteNull() error
	WriteString(v string) error
	WriteInt(v int64) error
	WriteFloat(v float64) error
	WriteBool(v bool) error
	WriteBytes(v []byte) error
	BeginObject() error
	FieldName(name string) error
	EndObject() error
	BeginArray() error
	EndArray() error
}

// NodeKind classifies the value a Source cursor is positioned on.
type NodeKind int

const (
	KindInvalid NodeKind = iota
	KindNull
	KindBool
	KindString
	KindNumber
	KindBytes
	KindObject
	KindArray
)

func (k NodeKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBytes:
		return "bytes"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Source is the token-level read surface. It is a cursor over a document:
// scalar reads interpret the current node, Field/Index descend into children
// and Leave returns to the parent. Read failures carry the document path.
type Source interface {
	Kind() NodeKind
	ReadString() (string, error)
	ReadInt() (int64, error)
	ReadFloat() (float64, error)
	ReadBool() (bool, error)
	ReadBytes() ([]byte, error)
	// Any returns the subtree under the cursor as plain Go values.
	Any() any
	// Fields lists the object's field names in stable (sorted) order.
	Fields() ([]string, error)
	// Field descends into a named field, reporting false when absent.
	Field(name string) (bool, error)
	Len() (int, error)
	// Index descends into the i-th element of an array.
	Index(i int) error
	// Leave ascends to the parent of the current node.
	Leave()
}

// TreeSink builds a document tree (map[string]any / []any / scalars) from
// sink tokens. Retrieve the finished tree with Root.
type TreeSink struct {
	root    any
	hasRoot bool
	stack   []treeFrame
}

type treeFrame struct {
	obj      map[string]any
	arr      []any
	isObj    bool
	field    string
	hasField bool
	label    string
}

// NewTreeSink creates an empty sink.
func NewTreeSink() *TreeSink {
	return &TreeSink{}
}

// Root returns the finished tree. It fails if no value was written or a
// structure is still open.
func (s *TreeSink) Root() (any, error) {
	if len(s.stack) > 0 {
		return nil, s.errf("unclosed structure")
	}
	if !s.hasRoot {
		return nil, s.errf("no value written")
	}
	return s.root, nil
}

func (s *TreeSink) WriteNull() error          { return s.place(nil) }
func (s *TreeSink) WriteString(v string) error { return s.place(v) }
func (s *TreeSink) WriteInt(v int64) error     { return s.place(v) }
func (s *TreeSink) WriteFloat(v float64) error { return s.place(v) }
func (s *TreeSink) WriteBool(v bool) error     { return s.place(v) }
func (s *TreeSink) WriteBytes(v []byte) error  { return s.place(v) }

func (s *TreeSink) BeginObject() error {
	label, err := s.nestLabel()
	if err != nil {
		return err
	}
	s.stack = append(s.stack, treeFrame{obj: make(map[string]any), isObj: true, label: label})
	return nil
}

func (s *TreeSink) FieldName(name string) error {
	if len(s.stack) == 0 || !s.top().isObj {
		return s.errf("field name %q outside of an object", name)
	}
	top := s.top()
	if top.hasField {
		return s.errf("field name %q while field %q has no value", name, top.field)
	}
	top.field = name
	top.hasField = true
	return nil
}

func (s *TreeSink) EndObject() error {
	if len(s.stack) == 0 || !s.top().isObj {
		return s.errf("end of object without matching begin")
	}
	top := s.top()
	if top.hasField {
		return s.errf("field %q has no value", top.field)
	}
	obj := top.obj
	s.stack = s.stack[:len(s.stack)-1]
	return s.place(obj)
}

func (s *TreeSink) BeginArray() error {
	label, err := s.nestLabel()
	if err != nil {
		return err
	}
	s.stack = append(s.stack, treeFrame{label: label})
	return nil
}

func (s *TreeSink) EndArray() error {
	if len(s.stack) == 0 || s.top().isObj {
		return s.errf("end of array without matching begin")
	}
	arr := s.top().arr
	if arr == nil {
		arr = []any{}
	}
	s.stack = s.stack[:len(s.stack)-1]
	return s.place(arr)
}

func (s *TreeSink) top() *treeFrame {
	return &s.stack[len(s.stack)-1]
}

// nestLabel consumes the position a nested structure will occupy, for path
// reporting, without placing a value yet.
func (s *TreeSink) nestLabel() (string, error) {
	if len(s.stack) == 0 {
		if s.hasRoot {
			return "", s.errf("second root value")
		}
		return "", nil
	}
	top := s.top()
	if top.isObj {
		if !top.hasField {
			return "", s.errf("value inside object without field name")
		}
		return top.field, nil
	}
	return "[" + strconv.Itoa(len(top.arr)) + "]", nil
}

func (s *TreeSink) place(v any) error {
	if len(s.stack) == 0 {
		if s.hasRoot {
			return s.errf("second root value")
		}
		s.root = v
		s.hasRoot = true
		return nil
	}
	top := s.top()
	if top.isObj {
		if !top.hasField {
			return s.errf("value inside object without field name")
		}
		top.obj[top.field] = v
		top.hasField = false
		return nil
	}
	top.arr = append(top.arr, v)
	return nil
}

func (s *TreeSink) path() string {
	var b strings.Builder
	for i := range s.stack {
		f := &s.stack[i]
		if f.label == "" {
			continue
		}
		if b.Len() > 0 && !strings.HasPrefix(f.label, "[") {
			b.WriteByte('.')
		}
		b.WriteString(f.label)
	}
	if top := len(s.stack); top > 0 {
		f := &s.stack[top-1]
		if f.isObj && f.hasField {
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(f.field)
		}
	}
	return b.String()
}

func (s *TreeSink) errf(format string, args ...any) error {
	return &TransportError{Path: s.path(), Err: fmt.Errorf(format, args...)}
}

// TreeSource walks a decoded document tree. It accepts the value shapes the
// built-in codecs produce: map[string]any objects, []any arrays, and scalars
// as string, bool, nil, []byte, json.Number, int64, uint64 or float64.
type TreeSource struct {
	cur   any
	stack []any
	path  []string
}

// NewTreeSource positions a cursor on the root of tree.
func NewTreeSource(tree any) *TreeSource {
	return &TreeSource{cur: tree}
}

func (s *TreeSource) Kind() NodeKind {
	switch s.cur.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case string:
		return KindString
	case json.Number, int64, uint64, float64, int, float32:
		return KindNumber
	case []byte:
		return KindBytes
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	default:
		return KindInvalid
	}
}

func (s *TreeSource) ReadString() (string, error) {
	v, ok := s.cur.(string)
	if !ok {
		return "", s.errf("expected string, got %s", s.Kind())
	}
	return v, nil
}

func (s *TreeSource) ReadInt() (int64, error) {
	switch v := s.cur.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, s.errf("number %s is not an integer", v)
		}
		return n, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, s.errf("number %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) >= 1<<53 {
			return 0, s.errf("number %v is not an integer", v)
		}
		return int64(v), nil
	default:
		return 0, s.errf("expected number, got %s", s.Kind())
	}
}

func (s *TreeSource) ReadFloat() (float64, error) {
	switch v := s.cur.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, s.errf("invalid number %s", v)
		}
		return f, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, s.errf("expected number, got %s", s.Kind())
	}
}

func (s *TreeSource) ReadBool() (bool, error) {
	v, ok := s.cur.(bool)
	if !ok {
		return false, s.errf("expected bool, got %s", s.Kind())
	}
	return v, nil
}

func (s *TreeSource) ReadBytes() ([]byte, error) {
	switch v := s.cur.(type) {
	case []byte:
		return v, nil
	case string:
		// JSON carries binary data base64-encoded.
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, s.errf("invalid base64 data: %v", err)
		}
		return raw, nil
	default:
		return nil, s.errf("expected bytes, got %s", s.Kind())
	}
}

func (s *TreeSource) Any() any {
	return s.cur
}

func (s *TreeSource) Fields() ([]string, error) {
	obj, ok := s.cur.(map[string]any)
	if !ok {
		return nil, s.errf("expected object, got %s", s.Kind())
	}
	fields := make([]string, 0, len(obj))
	for k := range obj {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	return fields, nil
}

func (s *TreeSource) Field(name string) (bool, error) {
	obj, ok := s.cur.(map[string]any)
	if !ok {
		return false, s.errf("expected object, got %s", s.Kind())
	}
	v, ok := obj[name]
	if !ok {
		return false, nil
	}
	s.stack = append(s.stack, s.cur)
	s.path = append(s.path, name)
	s.cur = v
	return true, nil
}

func (s *TreeSource) Len() (int, error) {
	arr, ok := s.cur.([]any)
	if !ok {
		return 0, s.errf("expected array, got %s", s.Kind())
	}
	return len(arr), nil
}

func (s *TreeSource) Index(i int) error {
	arr, ok := s.cur.([]any)
	if !ok {
		return s.errf("expected array, got %s", s.Kind())
	}
	if i < 0 || i >= len(arr) {
		return s.errf("index %d out of range (%d elements)", i, len(arr))
	}
	s.stack = append(s.stack, s.cur)
	s.path = append(s.path, "["+strconv.Itoa(i)+"]")
	s.cur = arr[i]
	return nil
}

func (s *TreeSource) Leave() {
	if len(s.stack) == 0 {
		return
	}
	s.cur = s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	s.path = s.path[:len(s.path)-1]
}

func (s *TreeSource) pathString() string {
	var b strings.Builder
	for _, seg := range s.path {
		if b.Len() > 0 && !strings.HasPrefix(seg, "[") {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	if b.Len() == 0 {
		return "$"
	}
	return b.String()
}

func (s *TreeSource) errf(format string, args ...any) error {
	return &TransportError{Path: s.pathString(), Err: fmt.Errorf(format, args...)}
}

// writeTree replays a document tree into a sink. Object fields are emitted in
// sorted order so replayed documents are deterministic.
func writeTree(sink Sink, v any) error {
	switch v := v.(type) {
	case nil:
		return sink.WriteNull()
	case string:
		return sink.WriteString(v)
	case bool:
		return sink.WriteBool(v)
	case int64:
		return sink.WriteInt(v)
	case int:
		return sink.WriteInt(int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return sink.WriteFloat(float64(v))
		}
		return sink.WriteInt(int64(v))
	case float64:
		return sink.WriteFloat(v)
	case float32:
		return sink.WriteFloat(float64(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return sink.WriteInt(n)
		}
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q in document tree", string(v))
		}
		return sink.WriteFloat(f)
	case []byte:
		return sink.WriteBytes(v)
	case map[string]any:
		if err := sink.BeginObject(); err != nil {
			return err
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if err := sink.FieldName(k); err != nil {
				return err
			}
			if err := writeTree(sink, v[k]); err != nil {
				return err
			}
		}
		return sink.EndObject()
	case []any:
		if err := sink.BeginArray(); err != nil {
			return err
		}
		for _, e := range v {
			if err := writeTree(sink, e); err != nil {
				return err
			}
		}
		return sink.EndArray()
	default:
		return fmt.Errorf("unsupported document tree node of type %T", v)
	}
}

// normalizeTree rewrites reader artifacts into the plain value shapes callers
// of untyped reads expect: json.Number becomes int64 or float64, integral
// uint64 collapses to int64 when it fits, and containers are rebuilt so the
// result shares nothing with the source tree.
func normalizeTree(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return string(v)
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	case int:
		return int64(v)
	case float32:
		return float64(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalizeTree(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalizeTree(e)
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
