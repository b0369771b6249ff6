// Package util provides shared utility types for the partner gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrRouteNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., GatewayError, ValidationError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common sentinel errors for the gateway request path.
var (
	ErrRouteNotFound        = errors.New("route not found")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrCircuitOpen          = errors.New("circuit breaker open")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAuthorizationFailed  = errors.New("authorization failed")
	ErrValidationFailed     = errors.New("validation failed")
	ErrPartnerTransport     = errors.New("partner transport error")
	ErrPartnerBadTarget     = errors.New("invalid partner target")
	ErrConfigInvalid        = errors.New("invalid configuration")
)

// GatewayError is the error type translated to an HTTP response at the
// orchestrator boundary. It carries the status code and, for throttled or
// short-circuited requests, a Retry-After hint.
type GatewayError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *GatewayError) Is(target error) bool {
	if _, ok := target.(*GatewayError); ok {
		return true
	}
	return errors.Is(e.Cause, target)
}

// NewGatewayError creates a new GatewayError wrapping a sentinel cause.
func NewGatewayError(status int, message string, cause error) *GatewayError {
	return &GatewayError{StatusCode: status, Message: message, Cause: cause}
}

// NewRetryableError creates a GatewayError carrying a Retry-After hint.
func NewRetryableError(status int, message string, retryAfter time.Duration, cause error) *GatewayError {
	return &GatewayError{StatusCode: status, Message: message, RetryAfter: retryAfter, Cause: cause}
}

// StatusFor returns the HTTP status code for an error. Unrecognized errors
// map to 500.
func StatusFor(err error) int {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode
	}
	switch {
	case errors.Is(err, ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorizationFailed):
		return http.StatusForbidden
	case errors.Is(err, ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrPartnerTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError represents a request validation failure with per-field
// details.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s (fields: %v)", e.Message, e.Fields)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidationFailed {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// RouteNotFoundError represents a failed route resolution.
type RouteNotFoundError struct {
	Method string
	Path   string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route found for %s %s", e.Method, e.Path)
}

// Is checks if the error matches the target.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrRouteNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, path string) *RouteNotFoundError {
	return &RouteNotFoundError{Method: method, Path: path}
}

// PartnerError represents a failure calling an upstream partner.
type PartnerError struct {
	Partner string
	Op      string
	Cause   error
}

// Error implements the error interface.
func (e *PartnerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("partner error [%s] partner=%s: %v", e.Op, e.Partner, e.Cause)
	}
	return fmt.Sprintf("partner error [%s] partner=%s", e.Op, e.Partner)
}

// Unwrap returns the underlying error.
func (e *PartnerError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *PartnerError) Is(target error) bool {
	if _, ok := target.(*PartnerError); ok {
		return true
	}
	return errors.Is(e.Cause, target)
}

// NewPartnerError creates a new PartnerError.
func NewPartnerError(op, partner string, cause error) *PartnerError {
	return &PartnerError{Op: op, Partner: partner, Cause: cause}
}
