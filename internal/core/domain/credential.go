package domain

import (
	"crypto/subtle"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/argon2"
)

// PIN digest parameters. The salt is a static application salt so that the
// remote and every device derive the same digest for the same PIN.
const (
	PINLength = 4

	pinArgon2Time    uint32 = 2
	pinArgon2Memory  uint32 = 16384
	pinArgon2Threads uint8  = 2
	pinArgon2KeyLen  uint32 = 32
)

// DefaultPINSalt is used when no salt is configured.
const DefaultPINSalt = "farmsync.pin.v1"

// FarmerProfile is the snapshot of the farmer profile kept for offline use.
type FarmerProfile struct {
	FarmerID      string    `json:"farmer_id"`
	Name          string    `json:"name"`
	Village       string    `json:"village,omitempty"`
	District      string    `json:"district,omitempty"`
	Language      string    `json:"language,omitempty"`
	LandAreaAcres float64   `json:"land_area_acres,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CachedCredential is the locally cached, hashed login credential.
// It never holds a plaintext PIN.
type CachedCredential struct {
	FarmerID        string        `json:"farmer_id"`
	TenantID        string        `json:"tenant_id"`
	MobileNumber    string        `json:"mobile_number"`
	PINHash         string        `json:"pin_hash"`
	ProfileSnapshot FarmerProfile `json:"profile_snapshot"`
	CachedAt        time.Time     `json:"cached_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

// IsExpiredAt reports whether the credential can no longer be used at now.
func (c *CachedCredential) IsExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Identity returns the credential without its PIN digest.
func (c *CachedCredential) Identity() *CachedIdentity {
	return &CachedIdentity{
		FarmerID:     c.FarmerID,
		TenantID:     c.TenantID,
		MobileNumber: c.MobileNumber,
		Profile:      c.ProfileSnapshot,
		CachedAt:     c.CachedAt,
		ExpiresAt:    c.ExpiresAt,
	}
}

// CachedIdentity is the read-only view of a previous offline identity.
type CachedIdentity struct {
	FarmerID     string        `json:"farmer_id"`
	TenantID     string        `json:"tenant_id"`
	MobileNumber string        `json:"mobile_number"`
	Profile      FarmerProfile `json:"profile"`
	CachedAt     time.Time     `json:"cached_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// ValidatePIN checks the PIN format.
func ValidatePIN(pin string) error {
	if len(pin) != PINLength {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}

// PINHasher derives one-way PIN digests.
type PINHasher struct {
	salt []byte
}

// NewPINHasher creates a hasher with the given static application salt.
func NewPINHasher(salt string) *PINHasher {
	if salt == "" {
		salt = DefaultPINSalt
	}
	return &PINHasher{salt: []byte(salt)}
}

// Digest returns the hex-encoded argon2id digest of pin.
func (h *PINHasher) Digest(pin string) string {
	sum := argon2.IDKey([]byte(pin), h.salt, pinArgon2Time, pinArgon2Memory, pinArgon2Threads, pinArgon2KeyLen)
	return hex.EncodeToString(sum)
}

// Matches compares the digest of pin with an expected digest in constant time.
func (h *PINHasher) Matches(pin, expectedDigest string) bool {
	if expectedDigest == "" {
		return false
	}
	return DigestsEqual(h.Digest(pin), expectedDigest)
}

// DigestsEqual compares two digests in constant time.
func DigestsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
