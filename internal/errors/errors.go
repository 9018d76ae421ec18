// Package errors defines the API error envelope shared by all endpoints.
// Every failure response has the shape {ok:false, error:<machine code>,
// message:<human text>} so desktop clients can switch on the code alone.
package errors

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int    `json:"-"`
	OK         bool   `json:"ok"`
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
	// RetryAfter, when positive, is emitted as a Retry-After header.
	RetryAfter int `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, code, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Machine-readable error codes
const (
	CodeInvalidDeviceID    = "invalid_device_id"
	CodeInvalidLicenseKey  = "invalid_license_key"
	CodeInvalidRequest     = "invalid_request"
	CodeMissingParameter   = "missing_parameter"
	CodeLicenseNotFound    = "license_not_found"
	CodeDeviceLimit        = "device_limit"
	CodeRateLimited        = "rate_limited"
	CodeStoreUnavailable   = "store_unavailable"
	CodeInternal           = "internal_error"
	CodeProviderRejected   = "license_invalid"
	CodeValidationFailure  = "validation_unavailable"
	CodeLicenseUnverified  = "license_unverified"
)

// Predefined errors for common scenarios
var (
	ErrInvalidDeviceID = New(http.StatusBadRequest, CodeInvalidDeviceID,
		"device_id must be 8-128 URL-safe characters")
	ErrInvalidLicenseKey = New(http.StatusBadRequest, CodeInvalidLicenseKey,
		"license_key is missing or malformed")
	ErrLicenseNotFound = New(http.StatusNotFound, CodeLicenseNotFound,
		"The license key was not found or is not valid")
	ErrDeviceLimit = New(http.StatusForbidden, CodeDeviceLimit,
		"This license is already activated on the maximum number of devices")
	ErrStoreUnavailable = New(http.StatusServiceUnavailable, CodeStoreUnavailable,
		"Storage backend is temporarily unavailable")
	ErrInternal = New(http.StatusInternalServerError, CodeInternal,
		"An unexpected error occurred")
)

// InvalidRequest creates a bad request error with a detail message
func InvalidRequest(message string) *APIError {
	return New(http.StatusBadRequest, CodeInvalidRequest, message)
}

// MissingParameter creates an error for an absent required parameter
func MissingParameter(name string) *APIError {
	return New(http.StatusBadRequest, CodeMissingParameter, name+" is required")
}

// RateLimited creates a 429 error carrying a Retry-After hint in seconds
func RateLimited(retryAfter int) *APIError {
	e := New(http.StatusTooManyRequests, CodeRateLimited,
		"Too many requests. Please slow down.")
	e.RetryAfter = retryAfter
	return e
}
