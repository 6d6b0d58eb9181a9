// Package domain defines the core domain models for FarmSync.
package domain

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// SessionIDPrefix is the prefix for session IDs.
	SessionIDPrefix = "fsss-"

	// sessionIDLength is prefix (5) + ULID (26).
	sessionIDLength = 31
)

// Session is an authenticated farmer session on this device.
type Session struct {
	// ID is the session identifier. Format: fsss-{ulid_lowercase}.
	ID string `json:"id"`

	FarmerID string `json:"farmer_id"`
	TenantID string `json:"tenant_id"`
	Mobile   string `json:"mobile"`

	// Token is the opaque session token handed to the UI layer. It is
	// never persisted; only TokenHash is.
	Token string `json:"token,omitempty"`

	// TokenHash is the SHA-256 digest of Token.
	TokenHash string `json:"token_hash"`

	// CreatedAt is the session creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`

	// ExpiresAt is the absolute expiration timestamp (Unix milliseconds).
	ExpiresAt int64 `json:"expires_at"`

	// IsPinVerified is true once the PIN digest matched.
	IsPinVerified bool `json:"is_pin_verified"`

	// IsOffline marks sessions issued from a cached credential. They must be
	// revalidated against the remote once connectivity returns.
	IsOffline bool `json:"is_offline"`
}

// NewSession creates a session valid for ttl starting at now.
func NewSession(farmerID, tenantID, mobile, token string, now time.Time, ttl time.Duration, offline bool) (*Session, error) {
	id, err := GenerateSessionID(now)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:            id,
		FarmerID:      farmerID,
		TenantID:      tenantID,
		Mobile:        mobile,
		Token:         token,
		CreatedAt:     now.UnixMilli(),
		ExpiresAt:     now.Add(ttl).UnixMilli(),
		IsPinVerified: true,
		IsOffline:     offline,
	}, nil
}

// GenerateSessionID generates a new session ID using ULID.
func GenerateSessionID(now time.Time) (string, error) {
	id, err := newULID(now)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return SessionIDPrefix + strings.ToLower(id.String()), nil
}

// IsValidSessionID checks if a string is a valid session ID format.
func IsValidSessionID(id string) bool {
	id = strings.ToLower(id)
	if !strings.HasPrefix(id, SessionIDPrefix) || len(id) != sessionIDLength {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(id[len(SessionIDPrefix):]))
	return err == nil
}

// IsExpiredAt reports whether the session has expired at now.
// A session is still valid at exactly ExpiresAt.
func (s *Session) IsExpiredAt(now time.Time) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() > s.ExpiresAt
}

// TTLAt returns the remaining time-to-live at now, or 0 if expired.
func (s *Session) TTLAt(now time.Time) time.Duration {
	if s.ExpiresAt == 0 {
		return 0
	}
	remaining := s.ExpiresAt - now.UnixMilli()
	if remaining < 0 {
		return 0
	}
	return time.Duration(remaining) * time.Millisecond
}

// Clone creates a copy of the session.
func (s *Session) Clone() *Session {
	clone := *s
	return &clone
}

// CreatedAtTime returns CreatedAt as time.Time.
func (s *Session) CreatedAtTime() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// ExpiresAtTime returns ExpiresAt as time.Time.
func (s *Session) ExpiresAtTime() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAt)
}
