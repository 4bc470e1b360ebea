package service

import (
	"errors"
	"fmt"
)

// The caller-facing failure taxonomy. Absent and expired links collapse into
// ErrNotFound on purpose so responses do not reveal whether an id ever
// existed. ErrAuthRequired and ErrAuthRejected stay distinct: one prompts
// the client for input, the other reports a mismatch.
var (
	ErrValidation         = errors.New("invalid input")
	ErrNotFound           = errors.New("link not found")
	ErrAuthRequired       = errors.New("password required")
	ErrAuthRejected       = errors.New("password incorrect")
	ErrQuotaExceeded      = errors.New("max access count reached")
	ErrForbidden          = errors.New("deletion not authorized")
	ErrStorageUnavailable = errors.New("object storage unavailable")
	ErrConflict           = errors.New("could not allocate a unique identifier")
)

// invalidf wraps ErrValidation with a caller-facing detail message.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
