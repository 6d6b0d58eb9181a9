package service

import (
	"context"
	"time"

	"github.com/yndnr/farmsync-go/internal/core/domain"
)

// ============================================================================
// Remote collaborators
// ============================================================================

// RemoteCredential is the credential record held by the remote system.
type RemoteCredential struct {
	FarmerID     string               `json:"farmer_id"`
	TenantID     string               `json:"tenant_id"`
	MobileNumber string               `json:"mobile_number"`
	PINHash      string               `json:"pin_hash"`
	Profile      domain.FarmerProfile `json:"profile"`

	// LegacyPIN is a plaintext PIN some older remote records still carry.
	// It is decoded for compatibility and never used to authenticate.
	LegacyPIN string `json:"pin,omitempty"`
}

// RemoteAuthAPI is the remote credential lookup used by the online login path.
type RemoteAuthAPI interface {
	// LookupCredential returns the credential of (tenantID, mobile).
	// An unknown account returns ErrRemoteNotFound, an unreachable remote
	// ErrTransportUnavailable.
	LookupCredential(ctx context.Context, tenantID, mobile string) (*RemoteCredential, error)

	// RecordLogin updates the remote login counters of a farmer.
	RecordLogin(ctx context.Context, tenantID, farmerID string, at time.Time) error
}

// PushRequest carries one local mutation to the remote.
type PushRequest struct {
	Record         *domain.LocalRecord
	IdempotencyKey string
}

// PushResult is the remote acknowledgement of a push.
type PushResult struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangesRequest asks for remote changes of one entity type.
type ChangesRequest struct {
	TenantID      string
	OwnerFarmerID string
	EntityType    domain.EntityType
	Since         time.Time
	Cursor        string
	Limit         int
}

// ChangesPage is one page of remote changes. Records are ordered by
// increasing UpdatedAt across pages.
type ChangesPage struct {
	Records    []*domain.RemoteRecord `json:"records"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// RemoteDataAPI is the remote system of record for farmer data.
type RemoteDataAPI interface {
	// PushRecord upserts or deletes one record. Replaying a request with the
	// same idempotency key has no further effect.
	PushRecord(ctx context.Context, req *PushRequest) (*PushResult, error)

	// ChangesSince returns records changed after req.Since.
	ChangesSince(ctx context.Context, req *ChangesRequest) (*ChangesPage, error)
}

// ConnectivityProbe reports whether the remote is reachable.
type ConnectivityProbe interface {
	IsOnline(ctx context.Context) bool
}

// ProbeFunc adapts a function to ConnectivityProbe.
type ProbeFunc func(ctx context.Context) bool

// IsOnline implements ConnectivityProbe.
func (f ProbeFunc) IsOnline(ctx context.Context) bool {
	return f(ctx)
}
