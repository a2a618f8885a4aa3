package client

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/lazywriting/api/internal/model"
)

// ConfigurationError means the provider cannot be called at all. Never retried.
type ConfigurationError struct {
	Provider model.Provider
	Field    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %s: missing %s", e.Provider, e.Field)
}

// TimeoutError covers deadlines and transport failures. Always retryable.
type TimeoutError struct {
	Provider model.Provider
	Cause    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: request timed out: %v", e.Provider, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// APIError is a non-2xx status, a malformed body or an empty completion
type APIError struct {
	Provider   model.Provider
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("provider %s: api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable is true for rate limiting and upstream failures.
// Malformed and empty responses carry StatusCode 0 and are retried as upstream errors.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// ErrorClass groups provider errors by retry policy
type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	ClassTransient
	ClassUpstream
)

// Classify maps an error returned by Generate to its retry class
func Classify(err error) ErrorClass {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return ClassTransient
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Retryable() {
		return ClassUpstream
	}
	return ClassFatal
}
