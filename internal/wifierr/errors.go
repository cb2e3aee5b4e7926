// Package wifierr defines the error taxonomy shared by the provisioning
// components. Every operation surfaces one of a small set of error kinds,
// optionally carrying the underlying platform status code so shell output
// and logs can show the raw driver result.
package wifierr

import (
	"errors"
	"fmt"
)

// Kind categorizes a provisioning error.
type Kind int

const (
	// KindInvalidArgument indicates malformed input such as an oversized
	// SSID or password.
	KindInvalidArgument Kind = iota
	// KindBusy indicates an operation of the same type is already in
	// progress (e.g. a concurrent scan).
	KindBusy
	// KindAlreadyActive indicates a start request on a component that is
	// already started.
	KindAlreadyActive
	// KindAlreadyInactive indicates a stop request on a component that is
	// not running.
	KindAlreadyInactive
	// KindNoDevice indicates no network interface is present.
	KindNoDevice
	// KindTimeout indicates a scan or connect exceeded its bound.
	KindTimeout
	// KindUnavailable indicates the platform cannot provide a requested
	// capability (AP mode, address-assignment service).
	KindUnavailable
	// KindIO indicates a generic socket or file failure.
	KindIO
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "Invalid Argument"
	case KindBusy:
		return "Busy"
	case KindAlreadyActive:
		return "Already Active"
	case KindAlreadyInactive:
		return "Already Inactive"
	case KindNoDevice:
		return "No Device"
	case KindTimeout:
		return "Timeout"
	case KindUnavailable:
		return "Unavailable"
	case KindIO:
		return "I/O Error"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Error is a categorized provisioning error.
type Error struct {
	Kind    Kind   // Category of error
	Message string // Human-readable error message
	Status  int    // Underlying platform status code, 0 when not applicable
	Err     error  // Underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d, caused by: %v)", e.Kind, e.Message, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStatus creates an error carrying a platform status code.
func WithStatus(kind Kind, message string, status int) *Error {
	return &Error{Kind: kind, Message: message, Status: status}
}

// Wrap creates an error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindIO when err is not a
// provisioning error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindIO
}

// Is checks whether err is a provisioning error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsBusy checks if an error reports an operation already in progress.
func IsBusy(err error) bool { return Is(err, KindBusy) }

// IsTimeout checks if an error reports an exceeded wait bound.
func IsTimeout(err error) bool { return Is(err, KindTimeout) }

// IsNoDevice checks if an error reports a missing network interface.
func IsNoDevice(err error) bool { return Is(err, KindNoDevice) }

// IsUnavailable checks if an error reports a missing platform capability.
func IsUnavailable(err error) bool { return Is(err, KindUnavailable) }

// IsAlreadyActive checks for a start-while-started idempotency violation.
func IsAlreadyActive(err error) bool { return Is(err, KindAlreadyActive) }

// IsAlreadyInactive checks for a stop-while-stopped idempotency violation.
func IsAlreadyInactive(err error) bool { return Is(err, KindAlreadyInactive) }

// IsInvalidArgument checks if an error reports malformed input.
func IsInvalidArgument(err error) bool { return Is(err, KindInvalidArgument) }

// StatusOf returns the platform status code carried by err, or 0.
func StatusOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}
