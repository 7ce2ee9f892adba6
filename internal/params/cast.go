package params

import (
	"strconv"
	"strings"
)

// MapDelimiter separates key and value in a raw map entry.
const MapDelimiter = ":"

// falsy lists the (lower-cased) literals that cast to false.
var falsy = map[string]struct{}{"false": {}, "f": {}, "0": {}}

// Truthy casts a raw boolean literal. Anything outside the falsy set,
// including the empty string, is true.
func Truthy(s string) bool {
	_, isFalse := falsy[strings.ToLower(strings.TrimSpace(s))]
	return !isFalse
}

// RawParams is the caller's multimap of parameter name to raw strings, as
// produced by a query string where repeated keys encode multiple values.
type RawParams map[string][]string

func (RawParams) isInput() {}

// Clone returns a deep copy.
func (r RawParams) Clone() RawParams {
	if r == nil {
		return nil
	}
	out := make(RawParams, len(r))
	for k, v := range r {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Caster converts raw strings into typed values according to a Set.
// It never rejects unknown keys; they are passed through as strings.
type Caster struct {
	set *Set
}

func NewCaster(set *Set) *Caster { return &Caster{set: set} }

// Cast converts every key in raw. Declared parameters are typed; the first
// raw value wins for single-valued parameters. Unknown keys keep a single
// raw value as a string and several as a list of strings.
func (c *Caster) Cast(raw RawParams) (Values, error) {
	out := make(Values, len(raw))
	for name, vals := range raw {
		p, declared := c.set.Lookup(name)
		if !declared {
			switch len(vals) {
			case 0:
			case 1:
				out[name] = String(vals[0])
			default:
				strs := make([]Value, len(vals))
				for i, s := range vals {
					strs[i] = String(s)
				}
				out[name] = List(strs...)
			}
			continue
		}
		v, ok, err := castParam(p, vals)
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = v
		}
	}
	return out, nil
}

// castParam applies p's type and multiplicity rules. ok is false when a
// single-valued parameter was present without any raw value.
func castParam(p Parameter, vals []string) (Value, bool, error) {
	if p.Type == TypeMap {
		m := make(map[string]string, len(vals))
		for _, s := range vals {
			k, v, found := strings.Cut(s, MapDelimiter)
			if !found {
				return Value{}, false, &CastError{Param: p.Name, Type: p.Type, Raw: s, Err: errNoDelimiter}
			}
			m[k] = v
		}
		return Value{kind: KindMap, m: m}, true, nil
	}
	if p.Multivalued {
		list := make([]Value, 0, len(vals))
		for _, s := range vals {
			v, err := castScalar(p, s)
			if err != nil {
				return Value{}, false, err
			}
			list = append(list, v)
		}
		return Value{kind: KindList, list: list}, true, nil
	}
	if len(vals) == 0 {
		return Value{}, false, nil
	}
	v, err := castScalar(p, vals[0])
	if err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}

func castScalar(p Parameter, s string) (Value, error) {
	switch p.Type {
	case TypeBoolean:
		return Bool(Truthy(s)), nil
	case TypeInteger:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, &CastError{Param: p.Name, Type: p.Type, Raw: s, Err: err}
		}
		return Int(i), nil
	case TypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, &CastError{Param: p.Name, Type: p.Type, Raw: s, Err: err}
		}
		return Float(f), nil
	default:
		return String(s), nil
	}
}
