package domain

import "time"

// TenantContext binds the active tenant and, after login, the acting farmer.
type TenantContext struct {
	TenantID      string    `json:"tenant_id"`
	Domain        string    `json:"domain"`
	UserID        string    `json:"user_id,omitempty"`
	EstablishedAt time.Time `json:"established_at"`
}

// HasUser reports whether a farmer is bound.
func (c TenantContext) HasUser() bool {
	return c.UserID != ""
}

// IsZero reports whether no tenant is bound.
func (c TenantContext) IsZero() bool {
	return c.TenantID == ""
}
