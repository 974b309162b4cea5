package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeOAuth represents authorization, code-exchange, and refresh failures
	ErrTypeOAuth ErrorType = "oauth"
	// ErrTypeWebhook represents webhook verification or parse failures
	ErrTypeWebhook ErrorType = "webhook"
	// ErrTypeRateLimit represents rate limit errors
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeVendorAPI represents vendor-side API failures
	ErrTypeVendorAPI ErrorType = "vendor_api"
	// ErrTypeToken represents token-storage failures
	ErrTypeToken ErrorType = "token"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// OAuthError creates a new OAuth error for authorization, exchange, or refresh failures
func OAuthError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeOAuth,
		Message: msg,
		Cause:   cause,
	}
}

// WebhookError creates a new webhook verification or parse error
func WebhookError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeWebhook,
		Message: msg,
	}
}

// RateLimitError creates a new rate limit error carrying the retry_after hint
func RateLimitError(msg string, retryAfter time.Duration) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: msg,
		Context: map[string]interface{}{"retry_after": retryAfter},
	}
}

// VendorAPIError creates a new vendor-side API error carrying the HTTP status
func VendorAPIError(msg string, statusCode int) *AppError {
	return &AppError{
		Type:    ErrTypeVendorAPI,
		Message: msg,
		Context: map[string]interface{}{"status_code": statusCode},
	}
}

// TokenError creates a new token-storage error
func TokenError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeToken,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// RetryAfter extracts the retry_after hint from a rate limit error.
// Returns zero for any other error.
func RetryAfter(err error) time.Duration {
	appErr, ok := err.(*AppError)
	if !ok || appErr.Type != ErrTypeRateLimit {
		return 0
	}

	if d, ok := appErr.Context["retry_after"].(time.Duration); ok {
		return d
	}
	return 0
}

// StatusCode extracts the vendor HTTP status from a vendor API error.
// Returns zero for any other error.
func StatusCode(err error) int {
	appErr, ok := err.(*AppError)
	if !ok || appErr.Type != ErrTypeVendorAPI {
		return 0
	}

	if code, ok := appErr.Context["status_code"].(int); ok {
		return code
	}
	return 0
}
