package ir

import (
	"errors"
	"fmt"
)

// FailureKind categorizes conversion failures.
type FailureKind string

const (
	// KindEngineUnavailable indicates the engine failed to instantiate.
	// Fatal for the session; never retried automatically.
	KindEngineUnavailable FailureKind = "ENGINE_UNAVAILABLE"

	// KindConversion indicates the engine ran and exited non-zero.
	// Recoverable: the user may fix the input and retry.
	KindConversion FailureKind = "CONVERSION_FAILURE"

	// KindStagingViolation indicates a read-before-write or concurrent
	// invocation against the staging area. Always an internal bug.
	KindStagingViolation FailureKind = "STAGING_PROTOCOL_VIOLATION"

	// KindBusy indicates a conversion was rejected because another one is
	// in flight.
	KindBusy FailureKind = "BUSY"

	// KindCanceled indicates the caller's context ended before the
	// conversion completed.
	KindCanceled FailureKind = "CANCELED"
)

// Failure describes why a conversion did not produce a payload.
type Failure struct {
	// Kind identifies the failure category.
	Kind FailureKind

	// ExitCode is the engine's exit status. Zero unless Kind is KindConversion.
	ExitCode int

	// Message is a human-readable description.
	Message string

	// Diagnostics holds engine output captured during the invocation.
	Diagnostics string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	msg := f.Message
	if f.Kind == KindConversion {
		msg = fmt.Sprintf("%s (exit code %d)", msg, f.ExitCode)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, msg)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// IsKind reports whether err is a Failure of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind FailureKind) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// NewConversionFailure creates a Failure for a non-zero engine exit.
func NewConversionFailure(exitCode int, diagnostics string) *Failure {
	return &Failure{
		Kind:        KindConversion,
		ExitCode:    exitCode,
		Message:     "engine exited non-zero",
		Diagnostics: diagnostics,
	}
}

// Outcome is the tagged result of a conversion: either a payload or a Failure.
//
// The zero value is not a valid outcome; construct with Succeed or Fail.
type Outcome[T any] struct {
	value   T
	failure *Failure
	set     bool
}

// Succeed wraps a payload in a successful outcome.
func Succeed[T any](v T) Outcome[T] {
	return Outcome[T]{value: v, set: true}
}

// Fail wraps a failure. A nil failure is recorded as an internal staging
// violation rather than a silent success.
func Fail[T any](f *Failure) Outcome[T] {
	if f == nil {
		f = &Failure{Kind: KindStagingViolation, Message: "failure outcome without cause"}
	}
	return Outcome[T]{failure: f, set: true}
}

// OK reports whether the outcome carries a payload.
func (o Outcome[T]) OK() bool {
	return o.set && o.failure == nil
}

// Value returns the payload and whether the outcome succeeded.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, o.OK()
}

// Failure returns the failure, or nil on success.
func (o Outcome[T]) Failure() *Failure {
	if !o.set {
		return &Failure{Kind: KindStagingViolation, Message: "uninitialized outcome"}
	}
	return o.failure
}

// Err returns the failure as an error, or nil on success.
func (o Outcome[T]) Err() error {
	if f := o.Failure(); f != nil {
		return f
	}
	return nil
}
