package domain

import (
	"errors"
	"fmt"
)

// Validation sentinels. Callers branch with errors.Is; ValidationError
// adds the offending field and value on top.
var (
	ErrEmptyQuery       = errors.New("empty query")
	ErrInvalidThreshold = errors.New("threshold out of range")
	ErrInvalidLimit     = errors.New("invalid limit")
	ErrMissingID        = errors.New("missing problem id")
	ErrMissingTitle     = errors.New("missing problem title")
	ErrNoContent        = errors.New("problem has no embeddable text")
)

// ValidationError names the field that failed a check and the value it
// held, wrapping the sentinel for the failure.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Wrapped: wrapped,
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Wrapped)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }
