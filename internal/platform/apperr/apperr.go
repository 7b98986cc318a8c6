// Package apperr defines the engine's sealed error-kind enum: a
// kind-carrying error every internal layer, the HTTP boundary included,
// can switch on.
package apperr

import "fmt"

// Kind is one of the seven error kinds the engine recognizes.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindNotFound       Kind = "NotFound"
	KindNotPending     Kind = "NotPending"
	KindLockHeld       Kind = "LockHeld"
	KindNonDeterminism Kind = "NonDeterminism"
	KindTransient      Kind = "TransientFailure"
	KindFatal          Kind = "FatalFailure"
)

// Error is the engine's sealed error type: every error that crosses a
// component boundary carries one of the Kind values above.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func NotPending(format string, args ...any) *Error {
	return New(KindNotPending, fmt.Sprintf(format, args...))
}

func LockHeld(holder string) *Error {
	return New(KindLockHeld, fmt.Sprintf("lock held by %s", holder))
}

func NonDeterminism(format string, args ...any) *Error {
	return New(KindNonDeterminism, fmt.Sprintf(format, args...))
}

func Transient(err error) *Error {
	return Wrap(KindTransient, "", err)
}

func Fatal(err error) *Error {
	return Wrap(KindFatal, "", err)
}

// KindOf unwraps err looking for an *Error and returns its Kind. Unknown
// errors are treated as FatalFailure — the engine never silently swallows.
func KindOf(err error) Kind {
	var ae *Error
	if As(err, &ae) {
		return ae.Kind
	}
	return KindFatal
}

// As is a thin wrapper so callers don't need a separate errors import just
// for this package's unwrap helper.
func As(err error, target **Error) bool {
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
