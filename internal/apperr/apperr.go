// Package apperr defines the error taxonomy shared by every transport.
//
// Errors carry a machine-readable kind and a retriable hint. Callers may
// safely retry retriable errors because writes are keyed by deterministic id.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for clients.
type Kind string

const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindDeadlineExceeded Kind = "deadline_exceeded"
	KindDegraded         Kind = "degraded"
	KindUnavailable      Kind = "unavailable"
	KindInternal         Kind = "internal"
)

// Error is the canonical application error.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retriable: retriableKind(kind)}
}

// Wrap attaches a cause to a new Error so errors.Is/As still see the chain.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retriable: retriableKind(kind), cause: cause}
}

func retriableKind(k Kind) bool {
	switch k {
	case KindUnavailable, KindDeadlineExceeded, KindDegraded:
		return true
	default:
		return false
	}
}

// Invalid is shorthand for an invalid_argument error.
func Invalid(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// NotFound is shorthand for a not_found error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Conflictf is shorthand for a conflict error (duplicate local id, cycle).
func Conflictf(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// KindOf extracts the Kind from err, mapping context errors to
// deadline_exceeded and everything unrecognized to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDeadlineExceeded
	}
	return KindInternal
}

// Retriable reports whether err should be retried by the client.
func Retriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return retriableKind(KindOf(err))
}

// HTTPStatus maps an error kind to the HTTP status code the server returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindDegraded:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire form: {"error": {"kind", "message", "retriable"}}.
type Envelope struct {
	Error Payload `json:"error"`
}

// Payload is the inner error object.
type Payload struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// ToEnvelope converts any error to its wire form.
func ToEnvelope(err error) Envelope {
	var e *Error
	if errors.As(err, &e) {
		return Envelope{Error: Payload{Kind: e.Kind, Message: e.Message, Retriable: e.Retriable}}
	}
	k := KindOf(err)
	return Envelope{Error: Payload{Kind: k, Message: err.Error(), Retriable: retriableKind(k)}}
}
