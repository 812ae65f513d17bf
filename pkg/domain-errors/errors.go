// Package dErrors provides the coded error taxonomy shared by all custodia
// services. Services return these; the transport layer maps codes to HTTP
// statuses and store layers never construct them (stores speak sentinel
// errors, services translate).
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers that must branch on failure kind
// without string matching.
type Code string

const (
	// CodeValidation: malformed input — empty digest, non-positive
	// quantity, self-transfer, bad id.
	CodeValidation Code = "validation"
	// CodeConflict: uniqueness violation — reused batch code.
	CodeConflict Code = "conflict"
	// CodeUnauthorized: caller identity missing or unproven.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden: caller known but lacks the required capability or is
	// not the custodian/participant.
	CodeForbidden Code = "forbidden"
	// CodeInvalidState: operation illegal in the aggregate's current state —
	// out-of-order stage, wrong transfer status, inactive item.
	CodeInvalidState Code = "invalid_state"
	// CodeNotFound: unknown item, transfer, batch, or report.
	CodeNotFound Code = "not_found"
	// CodeIntegrity: chain or digest mismatch. Always audited; drives the
	// automatic deactivation policy.
	CodeIntegrity Code = "integrity_violation"
	// CodeUnavailable: a required collaborator is absent or unreachable
	// under the strict policy.
	CodeUnavailable Code = "collaborator_unavailable"
	// CodeTimeout: collaborator or store call exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeInternal: unexpected infrastructure failure.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. It wraps an optional cause so errors.Is /
// errors.As keep working through service boundaries.
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

// New constructs a coded error with no cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is a readable alias of HasCode for assertion-heavy test code.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the outermost code, or CodeInternal when the error is not
// a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
