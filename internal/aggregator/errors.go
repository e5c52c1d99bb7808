package aggregator

import (
	"errors"
	"fmt"
)

// Sentinel errors for the aggregator boundary.
var (
	// ErrNotConfigured is returned when aggregator credentials are not set.
	ErrNotConfigured = errors.New("aggregator: client not configured")

	// ErrInvalidToken is returned when the credential is invalid or expired.
	ErrInvalidToken = errors.New("aggregator: invalid or expired credential")

	// ErrRateLimited is returned when the provider's rate limit is exceeded.
	ErrRateLimited = errors.New("aggregator: rate limit exceeded")

	// ErrAccountNotFound is returned when the provider does not know the
	// account. Not retryable.
	ErrAccountNotFound = errors.New("aggregator: account not found")
)

// APIError represents an error response from the aggregator API.
type APIError struct {
	StatusCode   int
	ErrorType    string
	ErrorCode    string
	ErrorMessage string
	RequestID    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aggregator API error: %s (type=%s, code=%s, status=%d, request_id=%s)",
		e.ErrorMessage, e.ErrorType, e.ErrorCode, e.StatusCode, e.RequestID)
}

// IsRetryable returns true if the request might succeed on retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsAuthError returns true if the error is an authentication or
// permission failure. Auth errors are never retried.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == 401 || e.StatusCode == 403 ||
		e.ErrorType == "INVALID_ACCESS_TOKEN" || e.ErrorType == "INVALID_CREDENTIALS"
}

// IsTransient classifies an error from the aggregator boundary as
// retryable. Timeouts, 5xx responses and rate limiting are transient;
// auth and unknown-account failures are fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable() && !apiErr.IsAuthError()
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}
	var tempErr interface{ Temporary() bool }
	if errors.As(err, &tempErr) {
		return tempErr.Temporary()
	}
	return false
}

// IsFatal returns true for errors that must abort a sync run without retry.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrNotConfigured) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsAuthError() || apiErr.StatusCode == 404
	}
	return false
}
