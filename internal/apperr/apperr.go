// Package apperr defines the error taxonomy shared by the gateway and all
// backend services. Every failure crossing a service boundary is classified
// into one of a small set of kinds, and only the stable client-facing code
// for that kind is exposed outside the process.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	// KindValidation: bad input, rejected before any side effect.
	KindValidation Kind = iota + 1
	// KindNotFound: the requested route or entity does not exist.
	KindNotFound
	// KindRejection: a valid business outcome that is not a success,
	// e.g. insufficient stock or a declined charge.
	KindRejection
	// KindUnavailable: a downstream dependency timed out, refused the
	// connection, or its circuit breaker is open.
	KindUnavailable
	// KindInvariant: a consistency violation that should never happen in
	// correct operation. Logged as a fatal consistency alert.
	KindInvariant
)

// Client-facing codes. These are the only error identifiers that leave the
// process; internal messages and dependency addresses never do.
const (
	CodeInvalidRequest = "invalid-request"
	CodeNotFound       = "not-found"
	CodeRejected       = "rejected"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

func Validationf(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Rejectedf(format string, args ...interface{}) *Error {
	return New(KindRejection, format, args...)
}

func Unavailable(cause error, msg string) *Error {
	return Wrap(KindUnavailable, cause, msg)
}

func Invariantf(format string, args ...interface{}) *Error {
	return New(KindInvariant, format, args...)
}

// KindOf returns the kind of err, or 0 if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// Retriable reports whether the caller may retry the operation. Only
// dependency failures are retriable; validation errors and business
// rejections are final.
func Retriable(err error) bool { return KindOf(err) == KindUnavailable }

// Code maps err to its stable client-facing code.
func Code(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return CodeInvalidRequest
	case KindNotFound:
		return CodeNotFound
	case KindRejection:
		return CodeRejected
	case KindUnavailable:
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// HTTPStatus maps err to the HTTP status used at the service boundary.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRejection:
		return http.StatusUnprocessableEntity
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromCode reconstructs an error kind from a client-facing code, used when a
// JSON error envelope crosses back over a service boundary.
func FromCode(code, msg string) *Error {
	switch code {
	case CodeInvalidRequest:
		return New(KindValidation, "%s", msg)
	case CodeNotFound:
		return New(KindNotFound, "%s", msg)
	case CodeRejected:
		return New(KindRejection, "%s", msg)
	case CodeUnavailable:
		return New(KindUnavailable, "%s", msg)
	default:
		return New(KindInvariant, "%s", msg)
	}
}
