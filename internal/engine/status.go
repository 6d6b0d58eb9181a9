package engine

import (
	"context"
	"time"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/service"
)

// Status is a point-in-time view of the device.
type Status struct {
	TenantID     string `json:"tenant_id"`
	TenantDomain string `json:"tenant_domain,omitempty"`
	FarmerID     string `json:"farmer_id,omitempty"`

	AuthState      service.AuthState `json:"auth_state"`
	FailedAttempts int               `json:"failed_attempts,omitempty"`
	Session        *SessionStatus    `json:"session,omitempty"`

	Online bool `json:"online"`

	LastSyncTime   time.Time         `json:"last_sync_time,omitempty"`
	LastSyncStatus domain.SyncStatus `json:"last_sync_status,omitempty"`
	LastSyncError  string            `json:"last_sync_error,omitempty"`
	PendingPush    int               `json:"pending_push"`
}

// SessionStatus describes the active session without its token.
type SessionStatus struct {
	ID        string        `json:"id"`
	Mobile    string        `json:"mobile"`
	Offline   bool          `json:"offline"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
}

// Status collects the device status. The remote is probed only when probe
// is true. Sync fields are filled only while a farmer is bound.
func (e *Engine) Status(ctx context.Context, probe bool) (*Status, error) {
	st := &Status{
		AuthState:      e.auth.State(),
		FailedAttempts: e.auth.FailedAttempts(),
	}

	snap := e.scope.Snapshot()
	st.TenantID = snap.TenantID
	st.TenantDomain = snap.Domain
	st.FarmerID = snap.UserID

	if sess, err := e.auth.CurrentSession(ctx); err == nil {
		st.Session = &SessionStatus{
			ID:        sess.ID,
			Mobile:    sess.Mobile,
			Offline:   sess.IsOffline,
			ExpiresAt: sess.ExpiresAtTime(),
			TTL:       sess.TTLAt(e.now()).Round(time.Second),
		}
	}

	if probe {
		st.Online = e.remote.IsOnline(ctx)
	}

	if !snap.HasUser() {
		return st, nil
	}

	meta, err := e.store.GetSyncMetadata(ctx)
	if err != nil {
		return nil, err
	}
	st.LastSyncTime = meta.LastSyncTime
	st.LastSyncStatus = meta.LastSyncStatus
	st.LastSyncError = meta.LastError

	pending, err := e.store.Reconciler().CountDirty(ctx)
	if err != nil {
		return nil, err
	}
	st.PendingPush = pending
	return st, nil
}
