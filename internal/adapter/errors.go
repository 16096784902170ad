package adapter

import (
	"errors"
	"fmt"

	"github.com/roach88/entitystore/internal/record"
)

// Kind classifies persistence errors.
type Kind string

const (
	// KindValidation indicates a malformed create/update payload. Not retried.
	KindValidation Kind = "VALIDATION"

	// KindNotFound indicates the referenced id is absent from the backend.
	KindNotFound Kind = "NOT_FOUND"

	// KindConnectivity indicates the backend could not be reached (including
	// timeouts). Retryable by the caller via refresh.
	KindConnectivity Kind = "CONNECTIVITY"

	// KindUnexpected indicates the backend answered with a response outside
	// the wire contract. It never triggers fallback.
	KindUnexpected Kind = "UNEXPECTED"

	// KindConflict is reserved for concurrent-edit detection. No adapter
	// returns it yet.
	KindConflict Kind = "CONFLICT"
)

// Error is a typed persistence error.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Resource is the resource key of the failed operation.
	Resource string

	// ID is the record id, when the operation targeted one.
	ID record.ID

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	switch {
	case e.Resource != "" && !e.ID.IsZero():
		msg = fmt.Sprintf("%s (resource=%s, id=%s)", msg, e.Resource, e.ID)
	case e.Resource != "":
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConnectivity reports whether err is a connectivity error.
func IsConnectivity(err error) bool { return KindOf(err) == KindConnectivity }

// NewValidationError creates a validation error.
func NewValidationError(resource string, id record.ID, message string, cause error) *Error {
	return &Error{Kind: KindValidation, Resource: resource, ID: id, Message: message, Err: cause}
}

// NewNotFoundError creates a not-found error for id.
func NewNotFoundError(resource string, id record.ID) *Error {
	return &Error{Kind: KindNotFound, Resource: resource, ID: id, Message: "record not found"}
}

// NewConnectivityError creates a connectivity error.
func NewConnectivityError(resource, message string, cause error) *Error {
	return &Error{Kind: KindConnectivity, Resource: resource, Message: message, Err: cause}
}

// NewUnexpectedError creates an error for responses outside the contract.
func NewUnexpectedError(resource, message string, cause error) *Error {
	return &Error{Kind: KindUnexpected, Resource: resource, Message: message, Err: cause}
}
