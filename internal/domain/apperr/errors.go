// Package apperr defines the gateway's error taxonomy: kinds, not
// concrete types, each mapped to an HTTP status by the Gateway Front
// adapter, so every adapter maps errors the same way through one
// shared kind enum instead of per-package sentinel errors.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy's entries.
type Kind string

const (
	KindConfig         Kind = "config_error"
	KindValidation     Kind = "validation_error"
	KindUnauthenticated Kind = "unauthenticated"
	KindUnauthorized   Kind = "unauthorized"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindUpstream       Kind = "upstream_error"
	KindTransient      Kind = "transient"
	KindCorruption     Kind = "corruption"
)

// Error carries a Kind, a short client-facing reason code, and the
// underlying cause (never shown to the client directly).
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a client-facing reason code.
func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps a Kind to the HTTP status it is reported as.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return 400
	case KindUnauthenticated:
		return 401
	case KindUnauthorized:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindUpstream:
		return 502
	default:
		return 500
	}
}
