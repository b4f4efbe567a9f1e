// Package qerrors defines Quern's closed error taxonomy and maps each kind
// to the HTTP status the API layer answers with.
package qerrors

import (
	"fmt"
	"net/http"
)

// Kind is the small closed set of error categories the daemon raises.
// Prefer a tagged variant over ad hoc string codes so every caller switches
// exhaustively instead of string-matching.
type Kind string

const (
	AuthRequired      Kind = "AuthRequired"
	NotFound          Kind = "NotFound"
	InvalidArgument   Kind = "InvalidArgument"
	Conflict          Kind = "Conflict"
	PreconditionFailed Kind = "PreconditionFailed"
	SubprocessFailed  Kind = "SubprocessFailed"
	SubprocessTimeout Kind = "SubprocessTimeout"
	PortsExhausted    Kind = "PortsExhausted"
	AlreadyRunning    Kind = "AlreadyRunning"
	Internal          Kind = "Internal"
)

var statusByKind = map[Kind]int{
	AuthRequired:       http.StatusUnauthorized,
	NotFound:           http.StatusNotFound,
	InvalidArgument:    http.StatusBadRequest,
	Conflict:           http.StatusConflict,
	PreconditionFailed: http.StatusPreconditionFailed,
	SubprocessFailed:   http.StatusBadGateway,
	SubprocessTimeout:  http.StatusGatewayTimeout,
	PortsExhausted:     http.StatusInternalServerError,
	AlreadyRunning:     http.StatusConflict,
	Internal:           http.StatusInternalServerError,
}

// Status returns the HTTP status code for k, defaulting to 500 for an
// unrecognized kind (never happens for the closed set above, but keeps the
// map lookup total).
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a qerrors-flavored error carrying a Kind, a human message, and
// optional structured details surfaced in the API's error envelope.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause to a new *Error of the given kind.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured details and returns e for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As reports whether err is (or wraps) a *Error and returns it.
func As(err error) (*Error, bool) {
	qe, ok := err.(*Error)
	if ok {
		return qe, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if qe, ok := err.(*Error); ok {
			return qe, true
		}
	}
	return nil, false
}
