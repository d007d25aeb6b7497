// Package careerr defines the typed error kinds the reconciler raises, so
// callers can branch on failure class with errors.As while still getting a
// human-readable chain from Error().
package careerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the failure classes the reconciler distinguishes.
type Kind string

const (
	KindScript        Kind = "SCRIPT_ERROR"
	KindRepo          Kind = "REPO_ERROR"
	KindDirtyRepo     Kind = "DIRTY_REPO_ERROR"
	KindDrift         Kind = "DRIFT_ERROR"
	KindCaseMismatch  Kind = "CASE_MISMATCH_ERROR"
	KindIgnoredPath   Kind = "IGNORED_PATH_ERROR"
	KindUnknownEffect Kind = "UNKNOWN_EFFECTOR"
	KindHandshake     Kind = "HANDSHAKE_ERROR"
	KindProtocol      Kind = "PROTOCOL_ERROR"
	KindEffector      Kind = "EFFECTOR_ERROR"
	KindIO            Kind = "IO_ERROR"
	KindUnsupported   Kind = "UNSUPPORTED_STATUS"
)

// Error is a structured failure with a kind, a message, an optional wrapped
// cause, and small bits of context (which path, which effector, which verb)
// for diagnostics.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	for _, k := range []string{"verb", "effector", "path"} {
		if v, ok := e.Context[k]; ok {
			msg += fmt.Sprintf(" [%s=%s]", k, v)
		}
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a bare error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Context: map[string]string{}}
}

// Wrap creates an error of the given kind wrapping cause. Returns a nil
// *Error if cause is nil; returned through an error-typed result, that nil
// pointer is a non-nil error, so call sites check cause before wrapping.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause, Context: map[string]string{}}
}

// With attaches a context key/value and returns the receiver for chaining.
func (e *Error) With(key, value string) *Error {
	if e == nil {
		return nil
	}
	if e.Context == nil {
		e.Context = map[string]string{}
	}
	e.Context[key] = value
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
