// Package apperror is the error taxonomy shared by the billing core and the
// HTTP layer. Every failure that crosses a package boundary is an *Error with
// a Kind; errors.Is matches the kind sentinels below.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error types
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrConflict       = errors.New("conflict")
	ErrUnavailable    = errors.New("upstream unavailable")
	ErrQuotaExceeded  = errors.New("quota exceeded")
)

type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindConflict       Kind = "conflict"
	KindUnavailable    Kind = "unavailable"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindInternal       Kind = "internal"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrQuotaExceeded:
		return e.Kind == KindQuotaExceeded
	}
	return false
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, fmt.Errorf(format, args...))
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

func Authentication(op string, err error) *Error {
	return New(KindAuthentication, op, err)
}

func Conflict(op string, err error) *Error {
	return New(KindConflict, op, err)
}

func Unavailable(op string, err error) *Error {
	return New(KindUnavailable, op, err)
}

func QuotaExceeded(op string, limit int) *Error {
	return New(KindQuotaExceeded, op, fmt.Errorf("trial limit of %d reached", limit))
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindUnavailable:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindQuotaExceeded:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}
