// Package merrorkind defines the closed set of error kinds the engine
// propagates, per the error handling design: transient/retryable failures,
// broken data invariants, configuration problems, validation failures,
// stalled adaptation, and loss of persistence.
package merrorkind

import (
	"errors"
	"fmt"
)

// Kind is one of the six error categories the engine ever surfaces.
type Kind string

const (
	// KindTransient is I/O or timeout related and is retry-eligible.
	KindTransient Kind = "transient_failure"
	// KindInvariant means a data contract was broken; the offending item is
	// discarded and processing continues.
	KindInvariant Kind = "invariant_violation"
	// KindConfiguration means thresholds or options are invalid.
	KindConfiguration Kind = "configuration_error"
	// KindValidation means an incoming event or feedback failed its schema.
	KindValidation Kind = "validation_error"
	// KindAdaptationStalled means a learning update had insufficient data.
	KindAdaptationStalled Kind = "adaptation_stalled"
	// KindPersistenceUnavailable means the store cannot be reached.
	KindPersistenceUnavailable Kind = "persistence_unavailable"
)

// Error wraps an underlying cause with one of the closed Kinds and a
// component/context tag for log correlation.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Component, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare Kind sentinel created via
// New(kind, "", "", nil).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause}
}

func Transient(component, message string, cause error) *Error {
	return New(KindTransient, component, message, cause)
}

func Invariant(component, message string, cause error) *Error {
	return New(KindInvariant, component, message, cause)
}

func Configuration(component, message string, cause error) *Error {
	return New(KindConfiguration, component, message, cause)
}

func Validation(component, message string, cause error) *Error {
	return New(KindValidation, component, message, cause)
}

func AdaptationStalled(component, message string) *Error {
	return New(KindAdaptationStalled, component, message, nil)
}

func PersistenceUnavailable(component, message string, cause error) *Error {
	return New(KindPersistenceUnavailable, component, message, cause)
}

// KindOf extracts the Kind from err, if any, and reports whether one was
// found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether the first *Error found in err's chain carries the
// given Kind; Kinds of *Errors wrapped deeper are not consulted.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
