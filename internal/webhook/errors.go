package webhook

import "errors"

var (
	// ErrNotFound is returned when a configuration, delivery or resource does not exist
	// (or is not visible to the calling account).
	ErrNotFound = errors.New("not found")
	// ErrValidation marks caller input that was rejected before anything was written.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidURL is wrapped by ValidationError when the destination fails the SSRF guard.
	ErrInvalidURL = errors.New("invalid webhook url")
	// ErrInactive is returned by the test trigger when the configuration is switched off.
	ErrInactive = errors.New("webhook configuration inactive")
)

// ValidationError carries a user-facing reason for a rejected configuration write.
type ValidationError struct {
	Field  string
	Reason string
	err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() []error {
	if e.err != nil {
		return []error{ErrValidation, e.err}
	}
	return []error{ErrValidation}
}

func newValidationError(field, reason string, cause error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, err: cause}
}
