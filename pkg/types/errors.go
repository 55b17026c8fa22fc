package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a mutating or read call names an unknown
	// metric, rule, channel, insight or dashboard.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned when a definition fails validation.
	ErrInvalid = errors.New("invalid definition")
)

// NotFound wraps ErrNotFound with the kind and id of the missing object.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Invalidf wraps ErrInvalid with a formatted reason.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
