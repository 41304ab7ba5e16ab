// Package apperr defines the error taxonomy shared by all services. Guard
// failures are detected before any write and surface as one of these kinds;
// handlers map kinds to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindNotFound
	KindPersistence
)

// Error is a typed application error.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindUnknown
}

// Message returns the caller-safe message of err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.msg
	}
	return "unexpected error"
}

func Validation(format string, args ...any) error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...any) error {
	return &Error{kind: KindAuthorization, msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{kind: KindConflict, msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure. The wrapped error is kept for logs;
// the message is what callers may see.
func Persistence(msg string, err error) error {
	return &Error{kind: KindPersistence, msg: msg, err: err}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsAuthorization reports whether err is an authorization error.
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
