package core

import (
	"errors"
	"fmt"
)

// ErrNotFound signals a referenced entity is absent. Reads surface it as
// 404; ingest treats it as "skip this entry" and never aborts a run.
var ErrNotFound = errors.New("not found")

// ErrInvalidPageToken signals a malformed or negative pagination token.
var ErrInvalidPageToken = errors.New("invalid page token")

// ValidationError reports client input outside the declared domain. The
// HTTP layer maps it to 400.
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

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
