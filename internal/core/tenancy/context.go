// Package tenancy holds the active tenant/farmer binding and gatekeeps
// every data access. It fails closed: nothing is ever defaulted.
package tenancy

import (
	"sync"
	"time"

	"github.com/yndnr/farmsync-go/internal/core/domain"
)

// Binding is the result of a successful validation.
type Binding struct {
	Valid    bool
	TenantID string
	UserID   string
	Domain   string
}

// PartitionKey identifies the (tenant, owner) partition of the binding.
func (b Binding) PartitionKey() string {
	return b.TenantID + "/" + b.UserID
}

// MismatchHandler is called when a different tenant is requested while a
// farmer is bound. bound is the binding that was active at that moment.
type MismatchHandler func(bound domain.TenantContext, requestedTenantID string)

// Context is the single source of truth for who is acting for which tenant.
// It is constructed once at startup and injected wherever data is accessed.
type Context struct {
	mu         sync.RWMutex
	current    domain.TenantContext
	mismatched bool
	mismatchOf domain.TenantContext
	handlers   []MismatchHandler
	now        func() time.Time
}

// Option configures a Context.
type Option func(*Context)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		c.now = now
	}
}

// New creates an empty context. Every access fails until SetTenantContext.
func New(opts ...Option) *Context {
	c := &Context{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMismatch registers a handler for tenant-mismatch events.
func (c *Context) OnMismatch(h MismatchHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// SetTenantContext establishes the tenant scope.
//
// Re-setting the same tenant refreshes the domain. A different tenant
// replaces the binding only while no farmer is bound; otherwise the context
// enters the mismatched state, the mismatch handlers run and
// ErrTenantMismatch is returned. The mismatched state persists until
// ClearContext.
func (c *Context) SetTenantContext(tenantID, tenantDomain string) error {
	if tenantID == "" {
		return domain.ErrInvalidArgument.WithDetails("tenant_id is required")
	}

	c.mu.Lock()
	if c.mismatched {
		c.mu.Unlock()
		return domain.ErrTenantMismatch.WithDetails("context must be cleared first")
	}

	switch {
	case c.current.TenantID == tenantID:
		c.current.Domain = tenantDomain
		c.mu.Unlock()
		return nil

	case c.current.HasUser():
		c.mismatched = true
		c.mismatchOf = c.current
		bound := c.current
		handlers := append([]MismatchHandler(nil), c.handlers...)
		c.mu.Unlock()

		for _, h := range handlers {
			h(bound, tenantID)
		}
		return domain.ErrTenantMismatch.WithDetails(
			"bound tenant " + bound.TenantID + ", requested " + tenantID)

	default:
		c.current = domain.TenantContext{
			TenantID:      tenantID,
			Domain:        tenantDomain,
			EstablishedAt: c.now(),
		}
		c.mu.Unlock()
		return nil
	}
}

// SetUserID attaches the farmer identity to the already-set tenant.
func (c *Context) SetUserID(userID string) error {
	if userID == "" {
		return domain.ErrInvalidArgument.WithDetails("user_id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mismatched {
		return domain.ErrTenantMismatch
	}
	if c.current.IsZero() {
		return domain.ErrTenantNotSet
	}
	if c.current.HasUser() && c.current.UserID != userID {
		return domain.ErrCrossPartitionAccess.WithDetails("another farmer is bound, log out first")
	}
	c.current.UserID = userID
	return nil
}

// ValidateContext returns the active binding or a context error.
func (c *Context) ValidateContext(requireUser bool) (Binding, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.mismatched {
		return Binding{}, domain.ErrTenantMismatch
	}
	if c.current.IsZero() {
		return Binding{}, domain.ErrTenantNotSet
	}
	if requireUser && !c.current.HasUser() {
		return Binding{}, domain.ErrUserNotSet
	}
	return Binding{
		Valid:    true,
		TenantID: c.current.TenantID,
		UserID:   c.current.UserID,
		Domain:   c.current.Domain,
	}, nil
}

// Mismatched returns the binding that was active when a mismatch occurred.
func (c *Context) Mismatched() (domain.TenantContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mismatchOf, c.mismatched
}

// ClearContext wipes the binding and any mismatch state.
func (c *Context) ClearContext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = domain.TenantContext{}
	c.mismatchOf = domain.TenantContext{}
	c.mismatched = false
}

// Snapshot returns a copy of the current binding.
func (c *Context) Snapshot() domain.TenantContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}
