package core

import (
	"errors"
	"fmt"
	"time"
)

// StructuredError is the normalized form in which turn-level failures are
// surfaced to callers instead of being raised.
type StructuredError struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"` // HTTP-ish status when known
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

// NewStructuredError normalizes an arbitrary error. Already-structured errors
// pass through unchanged.
func NewStructuredError(err error) *StructuredError {
	var se *StructuredError
	if errors.As(err, &se) {
		return se
	}
	var re *RateLimitError
	if errors.As(err, &re) {
		return &StructuredError{Message: re.Error(), Status: 429}
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return &StructuredError{Message: ae.Error(), Status: 401}
	}
	return &StructuredError{Message: err.Error()}
}

// AuthError is a fatal authorization failure. It aborts the turn loop and is
// never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authorization failed: %v", e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// RateLimitError marks a transient quota/rate failure eligible for retry with
// backoff and, on persistence, model fallback.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration // zero when the backend gave no hint
}

func (e *RateLimitError) Error() string { return fmt.Sprintf("rate limited: %v", e.Err) }

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimitError reports whether err is (or wraps) a RateLimitError.
func IsRateLimitError(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// ParseError marks output that could not be decoded as the requested format.
// It is surfaced to the caller and never retried.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("malformed model output: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// ErrEmptyResponse is returned when a structured-output call produced no text.
var ErrEmptyResponse = errors.New("model returned an empty response")
