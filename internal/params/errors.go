package params

import (
	"errors"
	"fmt"
)

// CastError reports a raw string that cannot be converted to the declared type.
type CastError struct {
	Param string
	Type  ValueType
	Raw   string
	Err   error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("parameter %q: cannot cast %q to %s: %v", e.Param, e.Raw, e.Type, e.Err)
}

func (e *CastError) Unwrap() error { return e.Err }

// MissingError reports a required parameter that was not supplied.
type MissingError struct{ Param string }

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Param)
}

// ChoiceError reports a value outside the declared choice set.
type ChoiceError struct {
	Param   string
	Value   Value
	Choices []Value
}

func (e *ChoiceError) Error() string {
	legal := make([]any, len(e.Choices))
	for i, c := range e.Choices {
		legal[i] = c.Interface()
	}
	return fmt.Sprintf("parameter %q: value %v must be one of %v", e.Param, e.Value.Interface(), legal)
}

var errNoDelimiter = errors.New("map entry must be formatted as key" + MapDelimiter + "value")

// IsInvalid reports whether err was caused by the caller's parameters
// (malformed literal, missing required parameter, or disallowed choice).
func IsInvalid(err error) bool {
	var ce *CastError
	var me *MissingError
	var he *ChoiceError
	return errors.As(err, &ce) || errors.As(err, &me) || errors.As(err, &he)
}
