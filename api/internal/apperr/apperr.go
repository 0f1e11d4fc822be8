// Package apperr holds the error kinds a grading request can end with and
// renders them as one human-readable line.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	UnsupportedFormat  Kind = "unsupported_format"
	OversizedInput     Kind = "oversized_input"
	ConversionFailure  Kind = "conversion_failure"
	MissingCredential  Kind = "missing_credential"
	UnsupportedPayload Kind = "unsupported_payload"
	BackendError       Kind = "backend_error"
	EmptyReply         Kind = "empty_reply"
	MalformedReply     Kind = "malformed_reply"
	InvalidRequest     Kind = "invalid_request"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrUnsupportedFormat  = &Error{Kind: UnsupportedFormat}
	ErrOversizedInput     = &Error{Kind: OversizedInput}
	ErrConversionFailure  = &Error{Kind: ConversionFailure}
	ErrMissingCredential  = &Error{Kind: MissingCredential}
	ErrUnsupportedPayload = &Error{Kind: UnsupportedPayload}
	ErrBackend            = &Error{Kind: BackendError}
	ErrEmptyReply         = &Error{Kind: EmptyReply}
	ErrMalformedReply     = &Error{Kind: MalformedReply}
	ErrInvalidRequest     = &Error{Kind: InvalidRequest}
)

type Error struct {
	Kind    Kind
	Message string
	// Status is the HTTP status reported by a backend, 0 when not applicable.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Backend builds a BackendError for a non-success response. An empty message
// falls back to the HTTP status text.
func Backend(status int, msg string) *Error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = "backend request failed"
	}
	return &Error{Kind: BackendError, Message: msg, Status: status}
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
