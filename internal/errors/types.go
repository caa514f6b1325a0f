// Package errors defines the uniform error taxonomy, retry policy, and
// circuit breaker used across the task-execution substrate. Each error
// carries one Kind, and Retryable is the single helper that separates
// retryable from terminal outcomes; the scheme is generalized from a
// prior internal/errors/types.go to the Kind values this platform's
// task and engine layers need.
package errors

import (
	"fmt"
	"net/http"
)

// Kind is one of the uniform error kinds surfaced by the platform.
type Kind string

const (
	KindInvalidInput         Kind = "invalid-input"
	KindSSRFDetected         Kind = "ssrf-detected"
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not-found"
	KindRateLimitExceeded    Kind = "rate-limit-exceeded"
	KindConcurrencyExhausted Kind = "concurrency-exhausted"
	KindEngineTransient      Kind = "engine-transient"
	KindEngineTerminal       Kind = "engine-terminal"
	KindAllEnginesFailed     Kind = "all-engines-failed"
	KindLostLease            Kind = "lost-lease"
	KindCancelled            Kind = "cancelled"
	KindExpired              Kind = "expired"
	KindInternal             Kind = "internal"
)

// Error is the concrete error type carried through the system. Every
// error kind flows through this struct so handlers, workers, and the
// webhook payload builder can switch on Kind without type assertions.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; meaningful for rate-limit-exceeded, concurrency-exhausted
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind wrapping cause with a message.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// NewWithRetryAfter builds a rate-limit/concurrency error carrying the
// number of seconds a caller should wait before retrying.
func NewWithRetryAfter(kind Kind, message string, retryAfter int) *Error {
	return &Error{Kind: kind, Message: message, RetryAfter: retryAfter}
}

// KindOf extracts the Kind from err, defaulting to KindInternal for
// unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As is a thin local unwrap loop so callers don't need a second import of
// the standard library errors package alongside this one.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether err should ever be retried, either at the
// engine level (within the router) or at the task level (by the worker
// re-queuing with backoff).
func Retryable(err error) bool {
	return KindOf(err) == KindEngineTransient
}

// HTTPStatus maps a Kind to the REST status code it surfaces as.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput, KindSSRFDetected:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindConcurrencyExhausted:
		return http.StatusServiceUnavailable
	case KindEngineTransient, KindEngineTerminal, KindAllEnginesFailed,
		KindLostLease, KindCancelled, KindExpired:
		return http.StatusOK // these are task-level outcomes, not inline API errors
	default:
		return http.StatusInternalServerError
	}
}

// OpaqueCode returns the short, credential-free code embedded in webhook
// payloads for failed tasks.
func OpaqueCode(err error) string {
	return string(KindOf(err))
}
