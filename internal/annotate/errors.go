package annotate

import (
	"errors"
	"fmt"

	"annotd/internal/params"
	"annotd/internal/vram"
)

// Status classifies the outcome of an invocation.
type Status int

const (
	StatusOK Status = iota
	StatusBadInput
	StatusNotFound
	StatusResourceExhausted
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBadInput:
		return "bad-input"
	case StatusNotFound:
		return "not-found"
	case StatusResourceExhausted:
		return "resource-exhausted"
	case StatusInternal:
		return "internal-error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Classify maps an error returned by Annotate (or by parsing its input) to a
// Status. A nil error is StatusOK.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case params.IsInvalid(err), IsBadInput(err):
		return StatusBadInput
	case IsNotFound(err):
		return StatusNotFound
	case vram.IsInsufficient(err), IsTooBusy(err):
		return StatusResourceExhausted
	}
	return StatusInternal
}

// badInputError signals a malformed request body.
type badInputError struct{ msg string }

func (e *badInputError) Error() string { return e.msg }

func ErrBadInput(format string, args ...any) error {
	return &badInputError{msg: fmt.Sprintf(format, args...)}
}

// IsBadInput reports whether err indicates malformed input (return 400).
func IsBadInput(err error) bool {
	var e *badInputError
	return errors.As(err, &e)
}

// notFoundError signals a source document whose location does not exist.
type notFoundError struct{ id, location string }

func (e *notFoundError) Error() string {
	return fmt.Sprintf("document %s: location not found: %s", e.id, e.location)
}

func ErrNotFound(id, location string) error { return &notFoundError{id: id, location: location} }

// IsNotFound reports whether err indicates a missing referenced resource (return 404).
func IsNotFound(err error) bool {
	var e *notFoundError
	return errors.As(err, &e)
}

// tooBusyError signals that the accelerator slot could not be acquired in time.
type tooBusyError struct{ app string }

func (e *tooBusyError) Error() string { return "too busy: " + e.app }

// IsTooBusy reports whether err indicates backpressure on the accelerator slot.
func IsTooBusy(err error) bool {
	var e *tooBusyError
	return errors.As(err, &e)
}

// panicError carries a recovered panic from analyzer code.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func (e *panicError) StackTrace() string { return string(e.stack) }

// stackTracer is implemented by errors that carry their own trace.
type stackTracer interface{ StackTrace() string }
