package params

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
)

// RawKey is the reserved slot under which a Configuration keeps the
// caller's parameters verbatim.
const RawKey = "#RAW#"

// Input is accepted by Refiner.Refine: either RawParams straight from a
// caller, or a Configuration that was already refined.
type Input interface{ isInput() }

// Configuration is the refined, immutable parameter set handed to analysis
// code. It holds a value for every declared parameter and the raw input.
type Configuration struct {
	values       Values
	raw          RawParams
	unrecognized []string
}

func (*Configuration) isInput() {}

// Get returns the refined value of a declared parameter.
func (c *Configuration) Get(name string) (Value, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Bool returns the named boolean parameter, or false.
func (c *Configuration) Bool(name string) bool {
	b, _ := c.values[name].AsBool()
	return b
}

// Int returns the named integer parameter, or 0.
func (c *Configuration) Int(name string) int64 {
	i, _ := c.values[name].AsInt()
	return i
}

// Float returns the named number parameter, or 0.
func (c *Configuration) Float(name string) float64 {
	f, _ := c.values[name].AsFloat()
	return f
}

// Text returns the named string parameter, or "".
func (c *Configuration) Text(name string) string {
	s, _ := c.values[name].AsString()
	return s
}

// List returns the named multivalued parameter, or nil.
func (c *Configuration) List(name string) []Value {
	l, _ := c.values[name].AsList()
	return l
}

// Map returns the named map parameter, or nil.
func (c *Configuration) Map(name string) map[string]string {
	m, _ := c.values[name].AsMap()
	return m
}

// Values returns a copy of the refined values without the raw slot.
func (c *Configuration) Values() Values {
	out := make(Values, len(c.values))
	maps.Copy(out, c.values)
	return out
}

// Raw returns a copy of the parameters exactly as the caller sent them.
func (c *Configuration) Raw() RawParams { return c.raw.Clone() }

// Unrecognized lists the raw keys that match no declared parameter, sorted.
func (c *Configuration) Unrecognized() []string { return slices.Clone(c.unrecognized) }

// Equal reports whether both configurations hold the same values and raw input.
func (c *Configuration) Equal(o *Configuration) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.values.Equal(o.values) && maps.EqualFunc(c.raw, o.raw, slices.Equal[[]string])
}

func (c *Configuration) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.values)+1)
	for k, v := range c.values {
		out[k] = v.Interface()
	}
	out[RawKey] = c.raw
	return json.Marshal(out)
}

// Refiner applies defaults and validation on top of the Caster.
type Refiner struct {
	set    *Set
	caster *Caster
}

func NewRefiner(set *Set) *Refiner {
	return &Refiner{set: set, caster: NewCaster(set)}
}

// Refine turns caller input into a Configuration. A Configuration input is
// returned as is: refinement is never applied twice.
func (r *Refiner) Refine(in Input) (*Configuration, error) {
	switch v := in.(type) {
	case *Configuration:
		return v, nil
	case RawParams:
		casted, err := r.caster.Cast(v)
		if err != nil {
			return nil, err
		}
		return r.RefineCasted(casted, v)
	case nil:
		return r.RefineCasted(Values{}, RawParams{})
	}
	return nil, fmt.Errorf("unsupported refinement input %T", in)
}

// RefineCasted refines an already casted map. raw is retained verbatim.
func (r *Refiner) RefineCasted(casted Values, raw RawParams) (*Configuration, error) {
	if raw == nil {
		raw = RawParams{}
	}
	cfg := &Configuration{values: make(Values, r.set.Len()), raw: raw.Clone()}
	for _, p := range r.set.Params() {
		v, present := casted[p.Name]
		if !present {
			if p.Default == nil {
				return nil, &MissingError{Param: p.Name}
			}
			dv, _, err := castParam(p, renderDefault(p.Default))
			if err != nil {
				return nil, fmt.Errorf("default of %w", err)
			}
			cfg.values[p.Name] = dv
			continue
		}
		if err := checkChoices(p, v); err != nil {
			return nil, err
		}
		cfg.values[p.Name] = v
	}
	for k := range raw {
		if _, declared := r.set.Lookup(k); !declared {
			cfg.unrecognized = append(cfg.unrecognized, k)
		}
	}
	sort.Strings(cfg.unrecognized)
	return cfg, nil
}

func checkChoices(p Parameter, v Value) error {
	if len(p.Choices) == 0 {
		return nil
	}
	legal, err := p.choiceValues()
	if err != nil {
		return err
	}
	candidates := []Value{v}
	if v.kind == KindList {
		candidates = v.list
	}
	for _, c := range candidates {
		if !slices.ContainsFunc(legal, c.Equal) {
			return &ChoiceError{Param: p.Name, Value: c, Choices: legal}
		}
	}
	return nil
}

// choiceValues casts the declared choices through the parameter's type so
// that "3" and 3 compare equal for an integer parameter.
func (p Parameter) choiceValues() ([]Value, error) {
	out := make([]Value, 0, len(p.Choices))
	for _, c := range p.Choices {
		v, err := castScalar(p, renderScalar(c))
		if err != nil {
			return nil, fmt.Errorf("choice of %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// renderDefault turns a declared default back into raw strings so that it
// goes through exactly the same casting rules as caller input.
func renderDefault(def any) []string {
	switch d := def.(type) {
	case []string:
		return slices.Clone(d)
	case []any:
		out := make([]string, len(d))
		for i, e := range d {
			out[i] = renderScalar(e)
		}
		return out
	case map[string]string:
		return renderPairs(d)
	case map[string]any:
		m := make(map[string]string, len(d))
		for k, v := range d {
			m[k] = renderScalar(v)
		}
		return renderPairs(m)
	}
	return []string{renderScalar(def)}
}

func renderPairs(m map[string]string) []string {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + MapDelimiter + m[k]
	}
	return out
}

func renderScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case Value:
		return x.String()
	}
	return fmt.Sprint(v)
}
