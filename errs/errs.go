// Package errs implements the error taxonomy shared across the
// orchestration core. Every component returns *Error for domain
// failures instead of naked sentinels, so callers can branch on Kind
// with errors.As regardless of which layer raised it.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the closed error taxonomy.
type Kind string

const (
	KindValidation           Kind = "ValidationError"
	KindFingerprintMismatch  Kind = "FingerprintMismatch"
	KindLockTimeout          Kind = "LockTimeout"
	KindOptimisticConflict   Kind = "OptimisticLockConflict"
	KindInvalidTransition    Kind = "InvalidTransition"
	KindGateway              Kind = "GatewayError"
	KindCircuitOpen          Kind = "CircuitOpen"
	KindEventVersionMismatch Kind = "EventVersionMismatch"
	KindEventContinuity      Kind = "EventContinuityError"
	KindNotFound             Kind = "NotFound"
	KindInternal             Kind = "InternalError"
)

// Error is the concrete type every component-level failure is wrapped in.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, errs.New(KindNotFound, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a taxonomy error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a taxonomy error carrying an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithRetryable marks whether retry policies may re-attempt the
// operation that produced this error.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Of returns the Kind of err, or KindInternal if err is not a *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
