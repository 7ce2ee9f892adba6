// Package params declares the runtime parameters a service accepts and turns
// raw query-string style input into a typed, validated Configuration.
package params

import (
	"encoding/json"
	"fmt"
)

// ValueType is the declared type of a runtime parameter.
type ValueType string

const (
	TypeBoolean ValueType = "boolean"
	TypeInteger ValueType = "integer"
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
	TypeMap     ValueType = "map"
)

// Valid reports whether t is one of the supported value types.
func (t ValueType) Valid() bool {
	switch t {
	case TypeBoolean, TypeInteger, TypeNumber, TypeString, TypeMap:
		return true
	}
	return false
}

// Parameter declares one runtime configuration knob of a service.
//
// A nil Default makes the parameter required; a multivalued parameter that
// may be left empty declares an empty list default. Choices constrain
// scalar values and the elements of multivalued lists.
type Parameter struct {
	Name        string    `json:"name" yaml:"name" toml:"name"`
	Description string    `json:"description" yaml:"description" toml:"description"`
	Type        ValueType `json:"type" yaml:"type" toml:"type"`
	Choices     []any     `json:"choices,omitempty" yaml:"choices,omitempty" toml:"choices,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
	Multivalued bool      `json:"multivalued" yaml:"multivalued" toml:"multivalued"`
}

// Required reports whether callers must supply the parameter.
func (p Parameter) Required() bool { return p.Default == nil }

func (p Parameter) validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name is empty")
	}
	if p.Name == RawKey {
		return fmt.Errorf("parameter name %q is reserved", RawKey)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("parameter %q: unsupported type %q", p.Name, p.Type)
	}
	if len(p.Choices) > 0 && p.Type == TypeMap {
		return fmt.Errorf("parameter %q: choices are not supported for map parameters", p.Name)
	}
	if _, err := p.choiceValues(); err != nil {
		return err
	}
	if p.Default != nil {
		_, ok, err := castParam(p, renderDefault(p.Default))
		if err != nil {
			return fmt.Errorf("default of %w", err)
		}
		if !ok {
			return fmt.Errorf("parameter %q: default is empty", p.Name)
		}
	}
	return nil
}

// Set is an ordered collection of parameters with unique names.
// It is populated during service initialization and read-only afterwards.
type Set struct {
	list  []Parameter
	index map[string]int
}

// NewSet builds a Set, failing on invalid or duplicate declarations.
func NewSet(ps ...Parameter) (*Set, error) {
	s := &Set{}
	for _, p := range ps {
		if err := s.Add(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a parameter. Multivalued scalar defaults are normalised to a
// one-element list so that the declared default always has the shape the
// caster produces.
//
// A default that does not cast under the parameter's own rules is rejected
// here, so that a misdeclared service fails at startup instead of on every
// request that omits the parameter.
func (s *Set) Add(p Parameter) error {
	if p.Multivalued && p.Default != nil {
		switch p.Default.(type) {
		case []any, []string, map[string]any, map[string]string:
		default:
			p.Default = []any{p.Default}
		}
	}
	if err := p.validate(); err != nil {
		return err
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, dup := s.index[p.Name]; dup {
		return fmt.Errorf("parameter %q is already declared", p.Name)
	}
	s.index[p.Name] = len(s.list)
	s.list = append(s.list, p)
	return nil
}

// Lookup returns the parameter declared under name.
func (s *Set) Lookup(name string) (Parameter, bool) {
	if s == nil {
		return Parameter{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Parameter{}, false
	}
	return s.list[i], true
}

// Params returns a copy of the declared parameters in declaration order.
func (s *Set) Params() []Parameter {
	if s == nil {
		return nil
	}
	out := make([]Parameter, len(s.list))
	copy(out, s.list)
	return out
}

// Len returns the number of declared parameters.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.list)
}

func (s *Set) MarshalJSON() ([]byte, error) {
	if s == nil || s.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.list)
}

func (s *Set) UnmarshalJSON(b []byte) error {
	var ps []Parameter
	if err := json.Unmarshal(b, &ps); err != nil {
		return err
	}
	*s = Set{}
	for _, p := range ps {
		if err := s.Add(p); err != nil {
			return err
		}
	}
	return nil
}
