package outputs

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when an index or channel is outside valid bounds.
	ErrOutOfRange = errors.New("out of range")
	// ErrNotFound is returned when a well-formed request matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrUnknownKind is returned when a record declares a kind with no implementation.
	ErrUnknownKind = errors.New("unknown controller kind")
	// ErrNotOk marks a controller that was constructed but is not usable.
	ErrNotOk = errors.New("controller not ok")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes a rejected property edit or a configuration
// problem surfaced back to the editor.
type ValidationError struct {
	Property string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Property == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Property, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(property, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Property: property, Message: fmt.Sprintf(format, args...)}
}
