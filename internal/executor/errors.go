package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned by a transport when the endpoint answered with
// a success status but no generated text. It is retried like a transient failure.
var ErrEmptyResponse = errors.New("empty response from endpoint")

// ServiceError reports a failure attributable to the remote service.
// Transient errors (429, 5xx) are retried; others end the request.
type ServiceError struct {
	Status    int // 0 when the failure had no HTTP status
	Message   string
	Transient bool
}

// NewStatusError classifies a failure by its upstream HTTP status. An error
// payload on a 2xx or non-transient 4xx response is therefore terminal.
func NewStatusError(status int, msg string) *ServiceError {
	return &ServiceError{
		Status:    status,
		Message:   msg,
		Transient: IsTransientStatus(status),
	}
}

// NewMalformedError reports a success response that could not be decoded.
func NewMalformedError(status int, msg string) *ServiceError {
	return &ServiceError{Status: status, Message: msg}
}

func (e *ServiceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("service error: %s", e.Message)
	}
	return fmt.Sprintf("service error %d: %s", e.Status, e.Message)
}

// Temporary reports whether the failure is worth another attempt.
func (e *ServiceError) Temporary() bool { return e.Transient }

// IsTransientStatus reports whether an HTTP status is retryable: 429 or any 5xx.
func IsTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// TerminalError wraps a failure that ended a request without spending the
// remaining retry budget.
type TerminalError struct {
	Attempt int // 0-based attempt that failed
	Err     error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("request failed on attempt %d: %v", e.Attempt+1, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// ExhaustedError is returned once every allowed attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err ends in an ExhaustedError.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// IsTerminal reports whether err ends in a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// retryable decides whether a failed attempt may be followed by another.
// Anything that is not a classified, non-transient service error is treated
// as a transport glitch.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Transient
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// statusOf extracts the upstream status for logging, or 0.
func statusOf(err error) int {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
