// Package errs declares the error taxonomy shared across justmemory's
// components: a small set of stable kinds plus a wrapping Error type that
// carries a short message and, where relevant, the offending ids.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification. Callers match on Kind, never on
// message text.
type Kind string

const (
	ValidationError           Kind = "ValidationError"
	NotFound                  Kind = "NotFound"
	AlreadyExists             Kind = "AlreadyExists"
	InvariantViolation        Kind = "InvariantViolation"
	ReferentialIntegrityError Kind = "ReferentialIntegrityError"
	Timeout                   Kind = "Timeout"
	NotAvailable              Kind = "NotAvailable"
	StorageBusy               Kind = "StorageBusy"
	SchemaError               Kind = "SchemaError"
)

// Error is the concrete error value returned across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is allows errors.Is(err, errs.New(kind, "")) style kind comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: cause}
}

// WithField attaches a contextual field (e.g. an offending id) and returns
// the same error for chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// KindOf extracts the Kind from err, returning "" if err is not (or does not
// wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
