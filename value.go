package pathdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

// Value is a node of a document tree. Only the types declared in this file
// implement it.
//
// Maps are the only variant that flattening, sanitization and merging descend
// into; lists are opaque leaves.
type Value interface {
	Kind() Kind
	value()
}

type (
	Null   struct{}
	String string
	Number float64
	Bool   bool
	List   []Value
	Map    map[string]Value
)

func (Null) Kind() Kind   { return KindNull }
func (String) Kind() Kind { return KindString }
func (Number) Kind() Kind { return KindNumber }
func (Bool) Kind() Kind   { return KindBool }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func (Null) value()   {}
func (String) value() {}
func (Number) value() {}
func (Bool) value()   {}
func (List) value()   {}
func (Map) value()    {}

func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("unsupported number %v", f)
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

func (m *Map) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	switch v := v.(type) {
	case Map:
		*m = v
	case Null:
		*m = nil
	default:
		return fmt.Errorf("expected a JSON object, got %v", v.Kind())
	}
	return nil
}

// ParseJSON decodes a single JSON value into a Value tree.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// IsEmptyMap reports whether v is a map with no keys. The flattened form uses
// empty maps to mark the presence of a sub-object.
func IsEmptyMap(v Value) bool {
	m, ok := v.(Map)
	return ok && len(m) == 0
}

// Equal compares two values structurally. A nil Value equals Null.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case Null:
		return true
	case String:
		return a == b.(String)
	case Number:
		return a == b.(Number)
	case Bool:
		return a == b.(Bool)
	case List:
		bl := b.(List)
		if len(a) != len(bl) {
			return false
		}
		for i := range a {
			if !Equal(a[i], bl[i]) {
				return false
			}
		}
		return true
	case Map:
		bm := b.(Map)
		if len(a) != len(bm) {
			return false
		}
		for k, av := range a {
			bv, found := bm[k]
			if !found || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Errorf("unknown value type %T", a))
	}
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch v := v.(type) {
	case List:
		if v == nil {
			return List(nil)
		}
		out := make(List, len(v))
		for i, el := range v {
			out[i] = Clone(el)
		}
		return out
	case Map:
		return v.Clone()
	default:
		return v
	}
}

func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Keys returns the map's keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Lookup walks nested maps along segments. An empty segment list returns m itself.
func (m Map) Lookup(segments []string) (Value, bool) {
	var cur Value = m
	for _, seg := range segments {
		cm, ok := cur.(Map)
		if !ok {
			return nil, false
		}
		cur, ok = cm[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath stores v at segments, creating intermediate maps and replacing any
// non-map value found on the way.
func (m Map) SetPath(segments []string, v Value) {
	if len(segments) == 0 {
		panic("SetPath: empty path")
	}
	cur := m
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(Map)
		if !ok || next == nil {
			next = make(Map)
			cur[seg] = next
		}
		cur = next
	}
	cur[segments[len(segments)-1]] = v
}

// ToAny converts v into plain Go values: map[string]any, []any, string,
// float64, bool and nil.
func ToAny(v Value) any {
	switch v := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(v)
	case Number:
		return float64(v)
	case Bool:
		return bool(v)
	case List:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = ToAny(el)
		}
		return out
	case Map:
		out := make(map[string]any, len(v))
		for k, el := range v {
			out[k] = ToAny(el)
		}
		return out
	default:
		panic(fmt.Errorf("unknown value type %T", v))
	}
}

// FromAny converts a tree of plain Go values (as produced by JSON, msgpack or
// DynamoDB attribute decoders) into a Value.
func FromAny(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(x), nil
	case int:
		return Number(x), nil
	case int8:
		return Number(x), nil
	case int16:
		return Number(x), nil
	case int32:
		return Number(x), nil
	case int64:
		return Number(x), nil
	case uint:
		return Number(x), nil
	case uint8:
		return Number(x), nil
	case uint16:
		return Number(x), nil
	case uint32:
		return Number(x), nil
	case uint64:
		return Number(x), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return Number(f), nil
	case []any:
		out := make(List, len(x))
		for i, el := range x {
			v, err := FromAny(el)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(x))
		for k, el := range x {
			v, err := FromAny(el)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = v
		}
		return out, nil
	case map[any]any:
		out := make(Map, len(x))
		for k, el := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string map key %v (%T)", k, k)
			}
			v, err := FromAny(el)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ks, err)
			}
			out[ks] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", x)
	}
}

// MapFromAny is FromAny for callers that expect an object at the top.
func MapFromAny(x any) (Map, error) {
	v, err := FromAny(x)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case Map:
		return v, nil
	case Null:
		return Map{}, nil
	default:
		return nil, fmt.Errorf("expected a map, got %v", v.Kind())
	}
}

// Document is a stored record. ID is assigned by the store on creation and
// never serialized to JSON.
type Document struct {
	ID     string
	Fields Map
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Fields)
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{ID: d.ID, Fields: d.Fields.Clone()}
}
