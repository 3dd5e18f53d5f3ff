package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrDuplicateName    = errors.New("name already in use")
	ErrGroupNotEmpty    = errors.New("group still has agents")
	ErrAlreadyRunning   = errors.New("agent already running")
	ErrNotRunning       = errors.New("agent not running")
	ErrExchangeNotReady = errors.New("exchange client not ready")
	ErrBusUnavailable   = errors.New("communication bus unavailable")
)

// ValidationError reports a rejected input field. It maps to a 400 response
// at the HTTP boundary, unlike the sentinel conflicts above.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for field with a formatted message.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
