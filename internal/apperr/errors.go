// Package apperr defines the dispatcher error taxonomy from the error
// handling design: validation, not-found, and conflict errors are
// distinguished so the dispatch layer can format a precise, typed
// response instead of a bare message string.
package apperr

import "fmt"

// Kind classifies an error for the dispatcher response envelope.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindCorruption Kind = "corruption"
	KindInternal   Kind = "internal"
)

// Error is a typed dispatcher error carrying a machine-readable Kind
// alongside its human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Validation builds a validation-kind error; never mutates state, per spec.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found-kind error for a missing entity id.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict-kind error: claim held, lock held, version mismatch.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Corruption wraps a database/backup integrity failure.
func Corruption(wrapped error, format string, args ...any) error {
	return &Error{Kind: KindCorruption, Message: fmt.Sprintf(format, args...), Wrapped: wrapped}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
