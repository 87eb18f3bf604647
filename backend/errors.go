package backend

import "fmt"

// BackendError is the base error type for all backend failures.
type BackendError struct {
	Message string
	Cause   error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// ProviderError is a non-transient failure reported by an LLM provider.
// It is fatal for the current turn and never retried.
type ProviderError struct {
	BackendError
	Provider   string
	StatusCode int
	ErrorCode  string
	Raw        map[string]interface{}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d)", e.Provider, e.Message, e.StatusCode)
}

// RateLimitError indicates the provider throttled the request. Transient;
// retried with backoff, honoring RetryAfter when present.
type RateLimitError struct {
	ProviderError
	RetryAfter *float64 // seconds, from the provider's Retry-After header
}

// UnauthorizedError indicates missing or invalid credentials. Never retried.
type UnauthorizedError struct{ ProviderError }

// InvalidRequestError indicates a malformed request. Never retried.
type InvalidRequestError struct{ ProviderError }

// TimeoutError indicates the request timed out. Transient; retried.
type TimeoutError struct{ BackendError }

// ConfigurationError indicates a client-side wiring problem (unknown
// provider, no default configured). Fatal at startup.
type ConfigurationError struct{ BackendError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error kind.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, raw map[string]interface{}, retryAfter *float64) error {
	pe := ProviderError{
		BackendError: BackendError{Message: message},
		Provider:     provider,
		StatusCode:   statusCode,
		ErrorCode:    errorCode,
		Raw:          raw,
	}

	switch statusCode {
	case 400, 404, 413, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401, 403:
		return &UnauthorizedError{ProviderError: pe}
	case 408:
		return &TimeoutError{BackendError: BackendError{Message: message}}
	case 429:
		return &RateLimitError{ProviderError: pe, RetryAfter: retryAfter}
	default:
		return &pe
	}
}

// IsRetryable reports whether the error is transient and safe to retry.
// Only rate limits and timeouts qualify; authorization failures, malformed
// requests, and provider faults surface immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch err.(type) {
	case *RateLimitError:
		return true
	case *TimeoutError:
		return true
	default:
		return false
	}
}
