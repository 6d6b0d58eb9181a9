package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("FS-TEST-1000", "test message"),
			expected: "[FS-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("FS-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[FS-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("FS-TEST-1000", "message 1")
	err2 := NewDomainError("FS-TEST-1000", "message 2")
	err3 := NewDomainError("FS-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_WithCause(t *testing.T) {
	original := NewDomainError("FS-TEST-1000", "original message")
	cause := fmt.Errorf("root cause")
	withCause := original.WithCause(cause)

	if original.Cause != nil {
		t.Error("WithCause should not modify original error")
	}
	if errors.Unwrap(withCause) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(withCause), cause)
	}
	if withCause.Code != original.Code {
		t.Errorf("Code = %q, want %q", withCause.Code, original.Code)
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"domain error", ErrRecordNotFound, "FS-STORE-4040"},
		{"wrapped domain error", fmt.Errorf("wrapped: %w", ErrTenantMismatch), "FS-CTX-4090"},
		{"regular error", fmt.Errorf("regular error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		err       error
		context   bool
		auth      bool
		sync      bool
		transport bool
	}{
		{ErrTenantNotSet, true, false, false, false},
		{ErrCrossPartitionAccess, true, false, false, false},
		{ErrWrongCredential, false, true, false, false},
		{ErrNoCachedCredential, false, true, false, false},
		{ErrPushFailed.WithDetails("land"), false, false, true, false},
		{ErrTransportUnavailable.WithCause(errors.New("dial tcp")), false, false, false, true},
		{fmt.Errorf("ctx: %w", ErrTransportUnavailable), false, false, false, true},
		{ErrRemoteRejected, false, false, false, false},
		{errors.New("plain"), false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if got := IsContextError(tt.err); got != tt.context {
				t.Errorf("IsContextError() = %v, want %v", got, tt.context)
			}
			if got := IsAuthError(tt.err); got != tt.auth {
				t.Errorf("IsAuthError() = %v, want %v", got, tt.auth)
			}
			if got := IsSyncError(tt.err); got != tt.sync {
				t.Errorf("IsSyncError() = %v, want %v", got, tt.sync)
			}
			if got := IsTransportError(tt.err); got != tt.transport {
				t.Errorf("IsTransportError() = %v, want %v", got, tt.transport)
			}
		})
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrTenantNotSet, "FS-CTX-4010"},
		{ErrUserNotSet, "FS-CTX-4011"},
		{ErrTenantMismatch, "FS-CTX-4090"},
		{ErrCrossPartitionAccess, "FS-CTX-4030"},
		{ErrWrongCredential, "FS-AUTH-4010"},
		{ErrNoCachedCredential, "FS-AUTH-4040"},
		{ErrCacheExpired, "FS-AUTH-4041"},
		{ErrTooManyAttempts, "FS-AUTH-4290"},
		{ErrPushFailed, "FS-SYNC-5001"},
		{ErrPullFailed, "FS-SYNC-5002"},
		{ErrTransportUnavailable, "FS-NET-5030"},
		{ErrRecordNotFound, "FS-STORE-4040"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(nil); got != "" {
		t.Errorf("UserMessage(nil) = %q, want empty", got)
	}

	wrong := UserMessage(ErrWrongCredential)
	noCache := UserMessage(ErrNoCachedCredential)
	if wrong == noCache {
		t.Error("wrong pin and missing offline credential must be explained differently")
	}
	if !strings.Contains(noCache, "offline") {
		t.Errorf("no-cache message should mention offline, got %q", noCache)
	}
	if UserMessage(errors.New("boom")) == "" {
		t.Error("unknown errors should still get a message")
	}
}
