package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorType classifies a gateway error.
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream inference provider failure.
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeInvalidRequest indicates a client error (bad input, unsupported task).
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates a missing or invalid credential.
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates an unknown project, deployment or data source.
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeRateLimit indicates an upstream 429.
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
)

// GatewayError is the base error type for all builder errors.
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status to report for this error.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the JSON shape returned to clients.
func (e *GatewayError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    string(e.Type),
			"message": e.Message,
		},
	}
}

// NewProviderError creates an upstream provider error. The upstream status is
// embedded in the message; the reported status is 500 per the error taxonomy.
func NewProviderError(provider string, upstreamStatus int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeProvider,
		Message:    fmt.Sprintf("%s API error: %d %s", provider, upstreamStatus, message),
		StatusCode: http.StatusInternalServerError,
		Provider:   provider,
		Err:        err,
	}
}

// NewInvalidRequestError creates a 400 error.
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a 401 error.
func NewAuthenticationError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewNotFoundError creates a 404 error.
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// ParseProviderError builds a GatewayError from a provider's error response,
// extracting the embedded message when the body is the usual {"error":{...}} shape.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}

	if statusCode == http.StatusTooManyRequests {
		return &GatewayError{
			Type:       ErrorTypeRateLimit,
			Message:    fmt.Sprintf("%s API error: %d %s", provider, statusCode, message),
			StatusCode: http.StatusInternalServerError,
			Provider:   provider,
			Err:        originalErr,
		}
	}
	return NewProviderError(provider, statusCode, message, originalErr)
}
