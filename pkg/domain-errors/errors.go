// Package domainerrors defines the coded errors exchanged between services,
// stores, and the transport layer. Stores return infrastructure sentinels;
// services translate them into these codes so handlers and operators see a
// stable taxonomy.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain error.
type Code string

const (
	// CodeNotFound marks lookups for entities that do not exist.
	CodeNotFound Code = "not_found"
	// CodeForbidden marks capability or assignment mismatches.
	CodeForbidden Code = "forbidden"
	// CodeInvalidTransition marks a target state unreachable from the
	// current state without an admin override.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeConflict marks an optimistic-concurrency clash; the caller must
	// refetch and retry.
	CodeConflict Code = "conflict"
	// CodeValidation marks malformed or out-of-range input.
	CodeValidation Code = "validation_error"
	// CodeDeliveryFailure marks a transient delivery error, retryable by
	// the dispatch queue.
	CodeDeliveryFailure Code = "delivery_failure"
	// CodeExhaustedRetries marks a job that ran out of attempts. Terminal;
	// surfaced operationally, never swallowed.
	CodeExhaustedRetries Code = "exhausted_retries"
	// CodeBadRequest marks malformed transport-level input.
	CodeBadRequest Code = "bad_request"
	// CodeUnauthorized marks missing or invalid actor credentials.
	CodeUnauthorized Code = "unauthorized"
	// CodeInternal marks unexpected failures. Details are logged, never
	// echoed to clients.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(code Code, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err or anything it wraps carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidTransition, CodeConflict:
		return http.StatusConflict
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeDeliveryFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
