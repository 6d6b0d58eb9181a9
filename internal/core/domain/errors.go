// Package domain defines the core domain models for FarmSync.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError represents a business domain error with a structured error code.
// Codes have the form FS-{CATEGORY}-{NNNN}.
type DomainError struct {
	Code    string // Error code (e.g., "FS-AUTH-4010")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Category returns the category segment of the code ("CTX", "AUTH", ...).
func (e *DomainError) Category() string {
	parts := strings.Split(e.Code, "-")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Error categories.
const (
	CategoryContext   = "CTX"
	CategoryAuth      = "AUTH"
	CategorySync      = "SYNC"
	CategoryTransport = "NET"
	CategoryStore     = "STORE"
	CategorySystem    = "SYS"
	CategoryArgument  = "ARG"
)

func isCategory(err error, category string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Category() == category
	}
	return false
}

// IsContextError reports whether err is a missing/mismatched tenant or user error.
func IsContextError(err error) bool { return isCategory(err, CategoryContext) }

// IsAuthError reports whether err is an authentication error.
func IsAuthError(err error) bool { return isCategory(err, CategoryAuth) }

// IsSyncError reports whether err is a per-entity sync error.
func IsSyncError(err error) bool { return isCategory(err, CategorySync) }

// IsTransportError reports whether err is a network-class failure. Only
// transport errors trigger the offline authentication fallback.
func IsTransportError(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == ErrTransportUnavailable.Code
	}
	return false
}

// ============================================================================
// Context Errors (CTX)
// ============================================================================

var (
	// ErrTenantNotSet indicates data access was attempted before a tenant was bound.
	ErrTenantNotSet = NewDomainError("FS-CTX-4010", "tenant context not established")

	// ErrUserNotSet indicates the operation requires an authenticated farmer.
	ErrUserNotSet = NewDomainError("FS-CTX-4011", "user not bound to tenant context")

	// ErrTenantMismatch indicates a different tenant was requested while a user was bound.
	ErrTenantMismatch = NewDomainError("FS-CTX-4090", "tenant mismatch, context must be cleared")

	// ErrCrossPartitionAccess indicates a read or write outside the active tenant/owner partition.
	ErrCrossPartitionAccess = NewDomainError("FS-CTX-4030", "cross-partition access denied")

	// ErrPartitionNotInitialized indicates the store has not opened a tenant partition.
	ErrPartitionNotInitialized = NewDomainError("FS-CTX-4012", "tenant partition not initialized")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrWrongCredential indicates the mobile/PIN pair did not match.
	ErrWrongCredential = NewDomainError("FS-AUTH-4010", "wrong mobile number or pin")

	// ErrNoCachedCredential indicates offline login is impossible because this
	// farmer never logged in online on this device.
	ErrNoCachedCredential = NewDomainError("FS-AUTH-4040", "no cached credential for offline login")

	// ErrCacheExpired indicates the cached credential is too old for offline login.
	ErrCacheExpired = NewDomainError("FS-AUTH-4041", "cached credential expired")

	// ErrTooManyAttempts indicates the consecutive failure threshold was reached.
	ErrTooManyAttempts = NewDomainError("FS-AUTH-4290", "too many failed attempts")

	// ErrInvalidPIN indicates the PIN is not four digits.
	ErrInvalidPIN = NewDomainError("FS-AUTH-4001", "pin must be 4 digits")

	// ErrNotAuthenticated indicates no session is active.
	ErrNotAuthenticated = NewDomainError("FS-AUTH-4011", "not authenticated")

	// ErrSessionExpired indicates the active session has expired.
	ErrSessionExpired = NewDomainError("FS-AUTH-4012", "session expired")

	// ErrSessionRevoked indicates online revalidation rejected an offline session.
	ErrSessionRevoked = NewDomainError("FS-AUTH-4013", "session revoked by remote")
)

// ============================================================================
// Sync Errors (SYNC)
// ============================================================================

var (
	// ErrPushFailed indicates pushing an entity type's dirty records failed.
	ErrPushFailed = NewDomainError("FS-SYNC-5001", "push failed")

	// ErrPullFailed indicates pulling an entity type's remote changes failed.
	ErrPullFailed = NewDomainError("FS-SYNC-5002", "pull failed")

	// ErrSyncSkipped indicates a non-forced sync was skipped.
	ErrSyncSkipped = NewDomainError("FS-SYNC-3040", "sync skipped")
)

// ============================================================================
// Transport Errors (NET)
// ============================================================================

var (
	// ErrTransportUnavailable indicates the remote system is unreachable
	// (network failure, timeout, 429 or 5xx).
	ErrTransportUnavailable = NewDomainError("FS-NET-5030", "remote unavailable")

	// ErrRemoteRejected indicates the remote refused the request (401/403).
	ErrRemoteRejected = NewDomainError("FS-NET-4030", "remote rejected request")

	// ErrRemoteNotFound indicates the remote has no such resource.
	ErrRemoteNotFound = NewDomainError("FS-NET-4040", "remote resource not found")

	// ErrRemoteProtocol indicates an unexpected response shape or status.
	ErrRemoteProtocol = NewDomainError("FS-NET-5020", "unexpected remote response")
)

// ============================================================================
// Store Errors (STORE)
// ============================================================================

var (
	// ErrRecordNotFound indicates the entity does not exist (or is tombstoned).
	ErrRecordNotFound = NewDomainError("FS-STORE-4040", "record not found")

	// ErrRecordValidation indicates the payload failed its schema validation.
	ErrRecordValidation = NewDomainError("FS-STORE-4001", "record validation failed")

	// ErrUnknownEntityType indicates no schema is registered for the entity type.
	ErrUnknownEntityType = NewDomainError("FS-STORE-4002", "unknown entity type")

	// ErrPartitionCorrupt indicates a stored row disagrees with its partition.
	ErrPartitionCorrupt = NewDomainError("FS-STORE-5002", "record stored in foreign partition")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("FS-STORE-5001", "storage error")
)

// ============================================================================
// System and Argument Errors
// ============================================================================

var (
	// ErrInternal indicates an internal error.
	ErrInternal = NewDomainError("FS-SYS-5000", "internal error")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("FS-ARG-1001", "invalid argument")
)

// UserMessage returns an actionable message for the UI. Unknown errors get
// a generic message so internals never leak to the farmer.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWrongCredential), errors.Is(err, ErrInvalidPIN):
		return "The mobile number or PIN is incorrect."
	case errors.Is(err, ErrNoCachedCredential):
		return "You are offline. New accounts cannot be registered or used offline; connect to the internet and log in once."
	case errors.Is(err, ErrCacheExpired):
		return "Your offline access has expired. Connect to the internet to log in again."
	case errors.Is(err, ErrTooManyAttempts):
		return "Too many wrong attempts. Restart the app to try again."
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrSessionRevoked), errors.Is(err, ErrNotAuthenticated):
		return "Please log in again."
	case IsContextError(err):
		return "This device is set up for a different organisation. Please log in again."
	case IsTransportError(err):
		return "Cannot reach the server. Your changes are saved on this device."
	default:
		return "Something went wrong. Please try again."
	}
}
