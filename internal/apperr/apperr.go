// Package apperr defines the error taxonomy shared by the stacksync pipeline.
// Errors carry a string code so callers can branch on the failure class with
// errors.Is and the CLI can print a stable identifier.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	// CodeConfiguration covers invalid locale, unsupported stack version and
	// missing environments or servers. Always fatal for a run.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeAuth indicates invalid credentials, api key or access token.
	CodeAuth Code = "AUTH"

	// CodeUpstreamTransient is a rate-limited (429) or server-side (5xx) response.
	CodeUpstreamTransient Code = "UPSTREAM_TRANSIENT"

	// CodeUpstreamPermanent is any other non-2xx response. Not retried.
	CodeUpstreamPermanent Code = "UPSTREAM_PERMANENT"

	// CodeMaxRetriesExceeded is returned once transient retries are exhausted.
	CodeMaxRetriesExceeded Code = "MAX_RETRIES_EXCEEDED"

	// CodeMalformedRecord marks a fetched entry or asset missing its uid.
	CodeMalformedRecord Code = "MALFORMED_RECORD"

	// CodeUpstream is a generic upstream failure: network errors and aborted
	// collection drains.
	CodeUpstream Code = "UPSTREAM"

	// CodeCancelled indicates the run context was cancelled or timed out.
	CodeCancelled Code = "CANCELLED"
)

// Error is a coded error with the operation that produced it.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

// New creates an error with a message and no cause.
func New(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Message: msg}
}

// Newf is New with a format string.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and operation to err. A nil err returns nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, apperr.ErrAuth) works
// through any amount of wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrConfiguration      = &Error{Code: CodeConfiguration}
	ErrAuth               = &Error{Code: CodeAuth}
	ErrUpstreamTransient  = &Error{Code: CodeUpstreamTransient}
	ErrUpstreamPermanent  = &Error{Code: CodeUpstreamPermanent}
	ErrMaxRetriesExceeded = &Error{Code: CodeMaxRetriesExceeded}
	ErrMalformedRecord    = &Error{Code: CodeMalformedRecord}
	ErrUpstream           = &Error{Code: CodeUpstream}
	ErrCancelled          = &Error{Code: CodeCancelled}
)

// CodeOf returns the outermost code found in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamTransient)
}

// IsFatal reports whether err must abort a whole run rather than a single
// unit of work.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeConfiguration, CodeAuth, CodeCancelled:
		return true
	}
	return false
}
