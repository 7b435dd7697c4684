package services

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by all services. Controllers map these onto HTTP
// statuses; state-machine errors are expected conditions and are returned
// to the caller verbatim.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid permit state")

	// ErrAlreadyClosed is a specialization of ErrInvalidState for repeated
	// close attempts; errors.Is(err, ErrInvalidState) also holds for it.
	ErrAlreadyClosed = fmt.Errorf("%w: permit already closed", ErrInvalidState)
)

// InvalidStateError reports a transition attempted from a status that does
// not allow it. It unwraps to ErrInvalidState.
type InvalidStateError struct {
	Operation string
	Status    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s permit in status %q", e.Operation, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
