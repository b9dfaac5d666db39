package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error returned by the HTTP API and sent over the
// voice WebSocket.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the vendor error wrapped by NewProviderError, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewInvalidRequestErrorWithParam names the offending request field.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

func NewPermissionError(message string) *Error {
	return &Error{Type: ErrPermission, Message: message}
}

func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

func NewConflictError(message, param string) *Error {
	return &Error{Type: ErrConflict, Message: message, Param: param}
}

// NewRateLimitError sets RetryAfter in whole seconds.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{Type: ErrRateLimit, Message: message, RetryAfter: &retryAfter}
}

func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

func NewOverloadedError(message string) *Error {
	return &Error{Type: ErrOverloaded, Message: message}
}

// NewProviderError wraps a failure from an external AI vendor.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:     ErrProvider,
		Message:  fmt.Sprintf("%s: %v", provider, underlying),
		Provider: provider,
		cause:    underlying,
	}
}

// IsRetryable reports whether a client may retry the same call later.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrProvider:
		return true
	default:
		return false
	}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		return ce, true
	}
	return nil, false
}
