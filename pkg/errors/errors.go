package errors

import (
	"fmt"
	"net/http"
)

// Kind is the taxonomy of outcomes the fetch pipeline can produce. It is a
// classification, not a Go error type hierarchy: every Kind maps to exactly
// one HTTP treatment in the dispatcher.
type Kind string

const (
	KindBadRequest        Kind = "bad_request"
	KindRefererDenied     Kind = "referer_denied"
	KindUpstreamStatus    Kind = "upstream_status"
	KindUpstreamTransport Kind = "upstream_transport"
	KindTooLarge          Kind = "too_large"
	KindBadFormat         Kind = "bad_format"
	KindInternal          Kind = "internal"
)

// Error is the biz-error carrier threaded through the fetch pipeline: a
// classification plus the HTTP code/headers the dispatcher should reply
// with, optionally wrapping the low-level cause for logging.
type Error struct {
	Kind    Kind
	Code    int
	Headers http.Header
	cause   error
}

func New(kind Kind, code int, headers http.Header) *Error {
	if headers == nil {
		headers = make(http.Header)
	}
	return &Error{Kind: kind, Code: code, Headers: headers}
}

func (e *Error) Error() string {
	return fmt.Sprintf("error: kind=%s code=%d cause=%v", e.Kind, e.Code, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}
