package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide on retry and presentation.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindValidation      Kind = "validation"
	KindForbidden       Kind = "forbidden"
	KindWindowExpired   Kind = "window_expired"
	KindNotFound        Kind = "not_found"
	KindTransient       Kind = "transient"
	KindUnauthenticated Kind = "unauthenticated"
)

// Error is the typed error returned by services and repositories.
type Error struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrForbidden) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrWindowExpired   = &Error{Kind: KindWindowExpired}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrTransient       = &Error{Kind: KindTransient}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
)

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(msg string) error { return New(KindValidation, msg) }

func Forbidden(msg string) error { return New(KindForbidden, msg) }

func WindowExpired(msg string) error { return New(KindWindowExpired, msg) }

func NotFound(msg string) error { return New(KindNotFound, msg) }

func Unauthenticated(msg string) error { return New(KindUnauthenticated, msg) }

// Transient wraps a storage failure. Idempotent operations may be retried.
func Transient(msg string, cause error) error {
	return Wrap(KindTransient, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf returns the user-facing message of err, without the cause.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
