package errors

import (
	"fmt"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeProtocol     ErrorCode = "PROTOCOL_ERROR"
	ErrCodeCrypto       ErrorCode = "CRYPTO_ERROR"
	ErrCodePrecondition ErrorCode = "PRECONDITION_FAILED"
	ErrCodeResource     ErrorCode = "RESOURCE_UNAVAILABLE"
	ErrCodeTransport    ErrorCode = "TRANSPORT_FAILED"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
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

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// Common error constructors
func NewProtocolError(message string) *AppError {
	return NewAppError(ErrCodeProtocol, message)
}

func NewCryptoError(message string) *AppError {
	return NewAppError(ErrCodeCrypto, message)
}

func NewPreconditionError(message string) *AppError {
	return NewAppError(ErrCodePrecondition, message)
}

func NewResourceError(message string) *AppError {
	return NewAppError(ErrCodeResource, message)
}

func NewTransportError(message string) *AppError {
	return NewAppError(ErrCodeTransport, message)
}

func NewInvalidStateError(message string) *AppError {
	return NewAppError(ErrCodeInvalidState, message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	// Try to unwrap
	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
