// Package apierr defines the registry's error taxonomy and its mapping to
// HTTP status codes, mirroring the original ApiError enum.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the purposes of HTTP status mapping and
// logging; it is never surfaced to clients directly.
type Kind string

const (
	KindUpstream     Kind = "upstream"
	KindParse        Kind = "parse"
	KindNetwork      Kind = "network"
	KindCache        Kind = "cache"
	KindDatabase     Kind = "database"
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindUpstream:     http.StatusBadGateway,
	KindParse:        http.StatusBadRequest,
	KindNetwork:      http.StatusBadGateway,
	KindCache:        http.StatusInternalServerError,
	KindDatabase:     http.StatusInternalServerError,
	KindBadRequest:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindForbidden:    http.StatusForbidden,
	KindNotFound:     http.StatusNotFound,
	KindConflict:     http.StatusConflict,
	KindInternal:     http.StatusInternalServerError,
}

// Error is the registry's single error type. Handlers return it (or a
// plain error, treated as KindInternal) and a boundary middleware maps it
// to an HTTP response.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Upstream(format string, args ...any) *Error     { return newf(KindUpstream, format, args...) }
func Parse(format string, args ...any) *Error         { return newf(KindParse, format, args...) }
func Network(format string, args ...any) *Error       { return newf(KindNetwork, format, args...) }
func Cache(format string, args ...any) *Error         { return newf(KindCache, format, args...) }
func Database(format string, args ...any) *Error      { return newf(KindDatabase, format, args...) }
func BadRequest(format string, args ...any) *Error    { return newf(KindBadRequest, format, args...) }
func Unauthorized(format string, args ...any) *Error  { return newf(KindUnauthorized, format, args...) }
func Forbidden(format string, args ...any) *Error     { return newf(KindForbidden, format, args...) }
func NotFound(format string, args ...any) *Error      { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error      { return newf(KindConflict, format, args...) }
func Internal(format string, args ...any) *Error      { return newf(KindInternal, format, args...) }

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := newf(kind, format, args...)
	e.Cause = cause
	return e
}

// As extracts an *Error from err via errors.As, for callers that need the
// Kind without assuming err is already typed.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Classify converts any error into an *Error, defaulting to KindInternal
// when err does not already carry a Kind.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(KindInternal, err, "internal error")
}
