package params

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "invalid"
}

// Value is a casted parameter value. Lists only ever hold primitive values.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]string
}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func List(vs ...Value) Value { return Value{kind: KindList, list: append([]Value{}, vs...)} }
func Map(m map[string]string) Value {
	c := make(map[string]string, len(m))
	maps.Copy(c, m)
	return Value{kind: KindMap, m: c}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns a copy of the list elements.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]Value{}, v.list...), true
}

// AsMap returns a copy of the map entries.
func (v Value) AsMap() (map[string]string, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	c := make(map[string]string, len(v.m))
	maps.Copy(c, v.m)
	return c, true
}

// Interface converts v into plain Go values (bool, int64, float64, string,
// []any, map[string]string).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]string, len(v.m))
		maps.Copy(out, v.m)
		return out
	}
	return nil
}

// Equal reports deep equality of kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return maps.Equal(v.m, o.m)
	}
	return true
}

// String renders primitives the way a caller would have typed them.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	}
	return fmt.Sprint(v.Interface())
}

func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(v.Interface()) }

// Values maps parameter names to casted values.
type Values map[string]Value

// Equal reports whether both maps hold equal values under the same keys.
func (vs Values) Equal(o Values) bool {
	return maps.EqualFunc(vs, o, func(a, b Value) bool { return a.Equal(b) })
}
