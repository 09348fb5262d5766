package incremental

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	// ErrInvalidDocPath is returned when a document path is empty where one is
	// required or contains control characters.
	ErrInvalidDocPath = errors.New("invalid document path")

	// ErrInvalidHash is returned when a hash field is not a 32 or 64 character hex digest.
	ErrInvalidHash = errors.New("invalid hash")

	// ErrLimitExceeded is returned when a size limit (documents, edges, field
	// lengths, collection sizes) would be breached.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInvalidAlgorithm is returned for an unknown hash algorithm name.
	ErrInvalidAlgorithm = errors.New("invalid hash algorithm")

	// ErrMalformedCache is returned when persisted cache data has the wrong shape.
	ErrMalformedCache = errors.New("malformed cache data")

	// ErrInvalidPattern is returned when a global invalidation pattern is rejected.
	ErrInvalidPattern = errors.New("invalid global pattern")

	// ErrInvalidConfig is returned when a configuration file fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNilExports is returned when a nil exports record is stored.
	ErrNilExports = errors.New("nil exports record")
)

// ValidationError represents one or more validation errors that occurred
// while checking a record, a settings key or a configuration.
type ValidationError struct {
	Errors []error
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("validation failed: %v", ve.Errors[0])
	}

	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(ve.Errors)))
	for i, err := range ve.Errors {
		fmt.Fprintf(&buf, "  %d. %v\n", i+1, err)
	}
	return buf.String()
}

// Unwrap returns the underlying errors for use with errors.Is and errors.As.
// This implements the multi-error unwrap interface introduced in Go 1.20.
func (ve *ValidationError) Unwrap() []error {
	return ve.Errors
}

// newValidationError creates a ValidationError from a slice of errors.
// Returns nil if the slice is empty.
func newValidationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

// limitError reports a breached bound.
func limitError(what string, got, limit int) error {
	return fmt.Errorf("%w: %s %d exceeds maximum %d", ErrLimitExceeded, what, got, limit)
}
