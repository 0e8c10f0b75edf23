// Package apierr tags errors with the HTTP status and stable code they surface as.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Error struct {
	Status int
	Code   string
	Err    error
	// RetryAfter, when set, is sent to the client as a Retry-After hint.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Retryable returns a copy of e that advises clients to retry after d.
func (e *Error) Retryable(d time.Duration) *Error {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// Message is the client-facing text. Server faults hide the underlying cause.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if e.Status >= http.StatusInternalServerError && e.Status != http.StatusGatewayTimeout && e.Status != http.StatusServiceUnavailable {
		return http.StatusText(e.Status)
	}
	return e.Error()
}

// From returns err as an *Error, defaulting to a 500 when it carries no status.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, "internal", err)
}
