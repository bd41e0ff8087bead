package genclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrMissingAPIKey is returned before any network call when no credential
// is configured. It is always terminal.
var ErrMissingAPIKey = errors.New("genclient: missing API key")

// APIError represents a non-2xx response from the generation endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Op         string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("genclient: %s: %d %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("genclient: %d %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status indicates a transient condition:
// request timeout, rate limiting, or a 5xx.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500 && e.StatusCode <= 599:
		return true
	}
	return false
}

// IsRetryable classifies err: API errors per their status, transport and
// timeout failures as transient, everything else as terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Timeouts, connection refusals, and DNS failures arrive as *url.Error,
	// which implements net.Error.
	var netErr net.Error
	return errors.As(err, &netErr)
}
