package domain

import (
	"crypto/rand"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxEntityIDLength bounds entity identifiers.
const MaxEntityIDLength = 128

// LocalRecord is one entity stored on the device together with its sync
// bookkeeping.
type LocalRecord struct {
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	TenantID      string          `json:"tenant_id"`
	OwnerFarmerID string          `json:"owner_farmer_id"`
	Payload       json.RawMessage `json:"payload"`
	SchemaVersion int             `json:"schema_version"`

	// LocalVersion increases on every local mutation.
	LocalVersion uint64 `json:"local_version"`

	// RemoteVersion is the version assigned by the remote, 0 if never synced.
	RemoteVersion uint64 `json:"remote_version,omitempty"`

	// Dirty means not yet confirmed persisted remotely.
	Dirty bool `json:"dirty"`

	// DeletedTombstone marks a local delete awaiting confirmation.
	DeletedTombstone bool `json:"deleted_tombstone"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone creates a deep copy of the record.
func (r *LocalRecord) Clone() *LocalRecord {
	clone := *r
	if r.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &clone
}

// HasRemote reports whether the remote has ever acknowledged this entity.
func (r *LocalRecord) HasRemote() bool {
	return r.RemoteVersion > 0
}

// Decode returns the typed entity held in the payload, migrated to the
// current schema version.
func (r *LocalRecord) Decode() (Entity, error) {
	return DecodeEntity(r.EntityType, r.SchemaVersion, r.Payload)
}

// RemoteRecord is an entity as reported by the remote system of record.
type RemoteRecord struct {
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	TenantID      string          `json:"tenant_id"`
	OwnerFarmerID string          `json:"owner_farmer_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Version       uint64          `json:"version"`
	Deleted       bool            `json:"deleted"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewerThan reports whether (version, updatedAt) of a is strictly greater
// than that of b. This is the last-writer-wins order used by the merge.
func NewerThan(aVersion uint64, aUpdated time.Time, bVersion uint64, bUpdated time.Time) bool {
	if aVersion != bVersion {
		return aVersion > bVersion
	}
	return aUpdated.After(bUpdated)
}

// ULIDs minted within the same millisecond share one monotonic source so
// they still sort in creation order.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID(now time.Time) (ulid.ULID, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.New(ulid.Timestamp(now), entropy)
}

// GenerateEntityID returns a new lowercase ULID for locally created entities.
// IDs generated in the same millisecond are strictly increasing.
func GenerateEntityID(now time.Time) (string, error) {
	id, err := newULID(now)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return strings.ToLower(id.String()), nil
}

// ValidateEntityID checks an entity identifier.
func ValidateEntityID(id string) error {
	if id == "" {
		return ErrInvalidArgument.WithDetails("entity_id is required")
	}
	if len(id) > MaxEntityIDLength {
		return ErrInvalidArgument.WithDetails("entity_id exceeds 128 characters")
	}
	if strings.ContainsAny(id, "/\x00") {
		return ErrInvalidArgument.WithDetails("entity_id contains reserved characters")
	}
	return nil
}
