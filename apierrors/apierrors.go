// Package apierrors defines the typed error taxonomy surfaced by the gateway.
//
// Components return *Error values with a stable Code; the gateway maps each
// code to an HTTP status and a one-sentence message. Internal causes are
// preserved via Unwrap for logging but never leak to clients.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeBadRequest     Code = "bad_request"
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"
	CodeTooLarge       Code = "too_large"
	CodeRateLimited    Code = "rate_limited"
	CodeCooldownActive Code = "cooldown_active"
	CodeInternal       Code = "internal"
	CodeBadGateway     Code = "bad_gateway"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Code    Code
	Message string // Client-facing one-sentence message.
	Err     error  // Internal cause, logged but never sent to clients.
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error with a client-facing message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches an internal cause to a client-facing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Newf builds an error with a formatted client-facing message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf extracts the client-facing message, or a generic one for
// untyped errors so internal details never reach the wire.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "internal error"
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited, CodeCooldownActive:
		return http.StatusTooManyRequests
	case CodeBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrUnauthorized is the single opaque error returned for every
// authentication failure; the internal cause is carried separately.
var ErrUnauthorized = New(CodeUnauthorized, "unauthorized")
