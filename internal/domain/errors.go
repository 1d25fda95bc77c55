package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorizes a failure for callers and for retry decisions.
type ErrorKind string

const (
	// KindTransientProvider is a retryable provider failure
	// (network, timeout, rate limit, upstream overload).
	KindTransientProvider ErrorKind = "transient_provider"

	// KindFatalProvider is a non-retryable provider failure
	// (auth, invalid request). Halts the pipeline.
	KindFatalProvider ErrorKind = "fatal_provider"

	// KindTool is an external tool failure. Absorbed into conversation
	// context, never pipeline-fatal.
	KindTool ErrorKind = "tool"

	// KindStoreUnavailable is a history store read/write failure.
	KindStoreUnavailable ErrorKind = "store_unavailable"

	// KindDelivery is a webhook callback delivery failure.
	KindDelivery ErrorKind = "delivery"

	// KindValidation is a malformed submission, rejected before any work.
	KindValidation ErrorKind = "validation"

	// KindInternal is an unexpected failure.
	KindInternal ErrorKind = "internal"
)

// Error is the structured failure record used across the pipeline and the
// webhook engine: category, originating node, and a human-readable message.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Node    string    `json:"node,omitempty"`
	Message string    `json:"message"`
	// Status is the suggested HTTP status; zero means derive from Kind.
	Status int `json:"-"`
}

func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Node, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// WithNode tags the error with the pipeline node it originated from.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// WithStatus overrides the HTTP status derived from Kind.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// HTTPStatusCode returns the status code to surface for this error.
func (e *Error) HTTPStatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindFatalProvider:
		return http.StatusBadGateway
	case KindTransientProvider, KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err to a *Error if one is in the chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return KindInternal
}

// IsTransient reports whether err should be retried by the provider adapter.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientProvider
}
