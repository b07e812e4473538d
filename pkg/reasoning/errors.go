package reasoning

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when a backend needs a key and none was given.
	ErrNoAPIKey = errors.New("reasoning: API key required")

	// ErrNoModel is returned when no model is configured.
	ErrNoModel = errors.New("reasoning: model required")

	// ErrNoBackend is returned when an assistant or chain has no backend.
	ErrNoBackend = errors.New("reasoning: backend required")

	// ErrNoImage is returned by CheckImage when the frame is empty.
	ErrNoImage = errors.New("reasoning: image required")

	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("reasoning: empty response")

	// ErrAllBackendsFailed is returned when every backend in a chain fails.
	ErrAllBackendsFailed = errors.New("reasoning: all backends failed")
)

// APIError is an error response from a model API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Backend    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("reasoning [%s]: API error %d (%s): %s", e.Backend, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("reasoning [%s]: API error %d: %s", e.Backend, e.StatusCode, e.Message)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for HTTP 401.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// BackendError wraps an error with the backend name.
type BackendError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("reasoning [%s]: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with backend context. It returns nil for a nil err.
func WrapError(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Err: err}
}
