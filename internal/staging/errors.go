package staging

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes staging protocol violations.
type ErrorCode string

const (
	// CodeNotFound indicates a read of a slot that was never written.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConcurrentInvocation indicates a second invocation was opened
	// while one was still in flight.
	CodeConcurrentInvocation ErrorCode = "CONCURRENT_INVOCATION"

	// CodeScopeMissing indicates an invocation began before EnsureScope.
	CodeScopeMissing ErrorCode = "SCOPE_MISSING"

	// CodeClosed indicates use of an invocation after Close.
	CodeClosed ErrorCode = "INVOCATION_CLOSED"

	// CodeInvalidName indicates a slot or scope name that is not a single
	// path element.
	CodeInvalidName ErrorCode = "INVALID_NAME"
)

// ProtocolError reports a violation of the staging sequencing rules.
// These indicate a bug in the caller, never bad user input.
type ProtocolError struct {
	Code         ErrorCode
	Path         string
	InvocationID string
	Message      string
	Err          error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.InvocationID != "" {
		return fmt.Sprintf("%s: %s: %s (invocation=%s)", e.Code, e.Path, e.Message, e.InvocationID)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is any staging protocol violation.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err is a read-before-write violation.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsConcurrentInvocation reports whether err is a concurrent invocation
// violation.
func IsConcurrentInvocation(err error) bool {
	return hasCode(err, CodeConcurrentInvocation)
}

func hasCode(err error, code ErrorCode) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
