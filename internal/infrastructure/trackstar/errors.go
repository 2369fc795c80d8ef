package trackstar

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingCredential is returned when a resource call is attempted
	// without an access token
	ErrMissingCredential = errors.New("trackstar: access token is required")

	// ErrMissingAPIKey is returned when the client is constructed without
	// an API key
	ErrMissingAPIKey = errors.New("trackstar: API key is required")
)

// APIError is a non-2xx response from the aggregator
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// RetryAfter is the upstream-suggested wait on 429 responses
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("trackstar: API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("trackstar: API error %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus reports the upstream status code; the circuit breaker uses it
// to classify failures
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// IsRateLimited reports whether this is an upstream 429
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}
