package unifiedllm

import (
	"errors"
	"fmt"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by a model endpoint.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64 // seconds, from the Retry-After header
	Body       string
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *ProviderError) providerError() *ProviderError { return e }

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// RequestTimeoutError covers both HTTP 408 and transport-level timeouts.
// StatusCode is zero for the latter.
type RequestTimeoutError struct{ ProviderError }

// Non-provider errors.

type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type InvalidResponseError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
// Only 408, 429, 500, 502, 503 and 504 are retryable.
func ErrorFromStatusCode(statusCode int, message, provider, body string, retryAfter *float64) error {
	if message == "" {
		message = fmt.Sprintf("HTTP %d", statusCode)
	}
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
		Body:       body,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 402:
		return &QuotaExceededError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		pe.Retryable = true
		return &RequestTimeoutError{ProviderError: pe}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		return &pe
	}
}

// IsRetryable returns true if the error is safe to retry. Anything not
// classified as transient is treated as permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.As(err, new(*RateLimitError)),
		errors.As(err, new(*ServerError)),
		errors.As(err, new(*RequestTimeoutError)),
		errors.As(err, new(*NetworkError)):
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// AsProviderError returns the ProviderError embedded in any of the concrete
// provider error types.
func AsProviderError(err error) (*ProviderError, bool) {
	var p interface{ providerError() *ProviderError }
	if errors.As(err, &p) {
		return p.providerError(), true
	}
	return nil, false
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) *float64 {
	if pe, ok := AsProviderError(err); ok {
		return pe.RetryAfter
	}
	return nil
}
