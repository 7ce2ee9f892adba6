package vram

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// InsufficientError signals that the estimated requirement exceeds the
// memory currently available on the device. Callers should back off and
// retry rather than treat it as a client mistake.
type InsufficientError struct {
	Required  uint64
	Available uint64
	Source    Source
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient VRAM: need %s (%s estimate), %s available",
		humanize.IBytes(e.Required), e.Source, humanize.IBytes(e.Available))
}

// IsInsufficient reports whether err is (or wraps) an InsufficientError.
func IsInsufficient(err error) bool {
	var ie *InsufficientError
	return errors.As(err, &ie)
}
