// Package apperr defines the error kinds surfaced by the matching, relay and
// lifecycle services, and maps them onto HTTP statuses.
package apperr

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"
)

type Kind string

const (
	Validation    Kind = "validation"
	Unauthorized  Kind = "unauthorized"
	Forbidden     Kind = "forbidden"
	NotFound      Kind = "not_found"
	Conflict      Kind = "conflict"
	SessionClosed Kind = "session_closed"
	RateLimited   Kind = "rate_limited"
	Transient     Kind = "transient"
	Blocked       Kind = "blocked"
	TooLong       Kind = "too_long"
	Internal      Kind = "internal"
)

// Error carries a Kind plus a caller-safe message. Err keeps the cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrForbidden) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Msg == ""
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation    = &Error{Kind: Validation}
	ErrUnauthorized  = &Error{Kind: Unauthorized}
	ErrForbidden     = &Error{Kind: Forbidden}
	ErrNotFound      = &Error{Kind: NotFound}
	ErrConflict      = &Error{Kind: Conflict}
	ErrSessionClosed = &Error{Kind: SessionClosed}
	ErrRateLimited   = &Error{Kind: RateLimited}
	ErrTransient     = &Error{Kind: Transient}
	ErrBlocked       = &Error{Kind: Blocked}
	ErrTooLong       = &Error{Kind: TooLong}
)

// KindOf returns the Kind of err, Internal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the caller-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

// FromStorage classifies a storage-layer failure. Already classified errors
// pass through unchanged.
func FromStorage(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Wrap(NotFound, "record not found", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Wrap(Conflict, "already exists", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(Transient, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return Wrap(Transient, "request was canceled", err)
	default:
		return Wrap(Transient, msg, err)
	}
}

// HTTPStatus maps a Kind onto an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden, Blocked:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict, SessionClosed:
		return http.StatusConflict
	case TooLong:
		return http.StatusRequestEntityTooLarge
	case RateLimited:
		return http.StatusTooManyRequests
	case Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
