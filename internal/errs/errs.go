package errs

import (
	"errors"
	"fmt"
)

// Kind classifies failures the way callers need to branch on them. The CLI
// maps kinds to exit codes; connectors downgrade some kinds to warnings.
type Kind string

const (
	ConfigInvalid              Kind = "config_invalid"
	QuotaExhausted             Kind = "quota_exhausted"
	ConnectorUnavailable       Kind = "connector_unavailable"
	ValidationFailed           Kind = "validation_failed"
	GuardrailViolation         Kind = "guardrail_violation"
	StateConflict              Kind = "state_conflict"
	Unauthorized               Kind = "unauthorized"
	StorageFailure             Kind = "storage_failure"
	InsufficientData           Kind = "statistical_insufficient_data"
)

// Error carries a kind, a human message, and optional context fields that
// surface in the single structured error document the CLI emits.
type Error struct {
	Kind    Kind              `json:"kind"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a typed error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: cause}
}

// WithContext attaches a context field, returning the same error for chaining.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// KindOf extracts the kind from err, or empty string for untyped errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// NonFatal reports whether the kind degrades to a run warning instead of
// aborting the enclosing operation.
func NonFatal(kind Kind) bool {
	switch kind {
	case QuotaExhausted, ConnectorUnavailable, InsufficientData:
		return true
	}
	return false
}
