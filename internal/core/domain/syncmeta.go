package domain

import "time"

// SyncStatus is the outcome of the last sync run.
type SyncStatus string

const (
	SyncStatusNever   SyncStatus = "never"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusSkipped SyncStatus = "skipped"
)

// SyncMetadata is the per (tenant, owner) sync bookkeeping read by the UI
// sync indicator.
type SyncMetadata struct {
	LastSyncTime     time.Time  `json:"last_sync_time"`
	LastSyncStatus   SyncStatus `json:"last_sync_status"`
	PendingPushCount int        `json:"pending_push_count"`
	LastError        string     `json:"last_error,omitempty"`

	// EntityErrors holds the last error per entity type, cleared on success.
	EntityErrors map[EntityType]string `json:"entity_errors,omitempty"`

	// Watermarks is the remote time up to which changes were pulled.
	Watermarks map[EntityType]time.Time `json:"watermarks,omitempty"`
}

// NewSyncMetadata returns metadata for a partition that never synced.
func NewSyncMetadata() *SyncMetadata {
	return &SyncMetadata{LastSyncStatus: SyncStatusNever}
}

// Watermark returns the pull watermark for t, falling back to LastSyncTime.
func (m *SyncMetadata) Watermark(t EntityType) time.Time {
	if w, ok := m.Watermarks[t]; ok {
		return w
	}
	return m.LastSyncTime
}

// Clone creates a deep copy.
func (m *SyncMetadata) Clone() *SyncMetadata {
	clone := *m
	if m.EntityErrors != nil {
		clone.EntityErrors = make(map[EntityType]string, len(m.EntityErrors))
		for k, v := range m.EntityErrors {
			clone.EntityErrors[k] = v
		}
	}
	if m.Watermarks != nil {
		clone.Watermarks = make(map[EntityType]time.Time, len(m.Watermarks))
		for k, v := range m.Watermarks {
			clone.Watermarks[k] = v
		}
	}
	return &clone
}
