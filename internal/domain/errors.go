package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a remote API failure.
type ErrorKind string

const (
	// ErrTransient covers timeouts, connection resets, 5xx and 429 responses.
	// Retried with backoff; degrades to an unknown fact once retries run out.
	ErrTransient ErrorKind = "transient"
	// ErrAuth covers 401/403. Never retried; aborts the whole poll cycle.
	ErrAuth ErrorKind = "auth"
	// ErrNotFound covers 404 on a specific resource. The request is treated
	// as removed or merged and dropped from the snapshot list.
	ErrNotFound ErrorKind = "not_found"
	// ErrMalformed covers unexpected payload shapes. Never retried.
	ErrMalformed ErrorKind = "malformed"
)

// APIError is a classified failure from an outbound HTTP call.
type APIError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError builds a classified API error.
func NewAPIError(kind ErrorKind, op string, statusCode int, err error) *APIError {
	return &APIError{Kind: kind, Op: op, StatusCode: statusCode, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is a retryable transient failure.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrTransient
}

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrAuth
}

// IsNotFound reports whether err marks a missing resource.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrNotFound
}
