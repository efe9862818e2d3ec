package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidState, "test error")
	expected := "INVALID_STATE: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error")

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}

	// Check error message includes cause
	errorMsg := err.Error()
	if !contains(errorMsg, "original error") {
		t.Errorf("Error() should contain cause, got: %v", errorMsg)
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeProtocol, "test error")
	err.WithContext("call_id", "value").WithContext("count", 42)

	if err.Context["call_id"] != "value" {
		t.Errorf("Context[call_id] = %v, want 'value'", err.Context["call_id"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err  *AppError
		code ErrorCode
	}{
		{NewProtocolError("x"), ErrCodeProtocol},
		{NewCryptoError("x"), ErrCodeCrypto},
		{NewPreconditionError("x"), ErrCodePrecondition},
		{NewResourceError("x"), ErrCodeResource},
		{NewTransportError("x"), ErrCodeTransport},
		{NewInvalidStateError("x"), ErrCodeInvalidState},
		{NewInternalError("x"), ErrCodeInternal},
	}
	for _, c := range cases {
		if c.err.Code != c.code {
			t.Errorf("Code = %v, want %v", c.err.Code, c.code)
		}
	}
}

func TestGetAppError_Unwraps(t *testing.T) {
	inner := NewResourceError("turn fetch timed out")
	wrapped := fmt.Errorf("initiate failed: %w", inner)

	got := GetAppError(wrapped)
	if got == nil || got.Code != ErrCodeResource {
		t.Errorf("GetAppError = %v, want code %v", got, ErrCodeResource)
	}
	if !HasCode(wrapped, ErrCodeResource) {
		t.Error("HasCode should report true through wrapping")
	}
}

func TestGetAppError_Nil(t *testing.T) {
	if GetAppError(nil) != nil {
		t.Error("GetAppError(nil) should be nil")
	}
	if GetAppError(errors.New("plain")) != nil {
		t.Error("GetAppError(plain) should be nil")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
