package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/tenancy"
	"github.com/yndnr/farmsync-go/internal/telemetry/metric"
	"github.com/yndnr/farmsync-go/pkg/token"
)

// AuthState is the state of the login state machine.
type AuthState string

const (
	StateIdle            AuthState = "idle"
	StateOnlineAttempt   AuthState = "online_attempt"
	StateOfflineFallback AuthState = "offline_fallback"
	StateAuthenticated   AuthState = "authenticated"
	StateLocked          AuthState = "locked"
)

// Attempt modes and outcomes reported to metrics.
const (
	modeNone    = "none"
	modeOnline  = "online"
	modeOffline = "offline"

	outcomeSuccess  = "success"
	outcomeWrong    = "wrong_credential"
	outcomeNoCache  = "no_cache"
	outcomeExpired  = "cache_expired"
	outcomeLocked   = "locked"
	outcomeRejected = "context_error"
	outcomeFailed   = "error"
)

// CredentialStore persists cached credentials and the device session.
type CredentialStore interface {
	SaveCredential(ctx context.Context, cred *domain.CachedCredential) error
	LoadCredential(ctx context.Context, tenantID, mobile string) (*domain.CachedCredential, error)
	DeleteCredential(ctx context.Context, tenantID, mobile string) error
	LastIdentity(ctx context.Context) (*domain.CachedCredential, error)

	SaveSession(ctx context.Context, sess *domain.Session) error
	LoadSession(ctx context.Context) (*domain.Session, error)
	DeleteSession(ctx context.Context) error
}

// TenantScope is the part of the tenancy context the authenticator drives.
type TenantScope interface {
	ValidateContext(requireUser bool) (tenancy.Binding, error)
	SetUserID(userID string) error
	ClearContext()
}

// AuthConfig holds configuration for OfflineAuthenticator.
type AuthConfig struct {
	// OnlineSessionTTL is the validity of sessions issued by the remote (default: 12h).
	OnlineSessionTTL time.Duration `koanf:"online_session_ttl"`

	// OfflineSessionTTL is the validity of sessions issued from the cache (default: 7d).
	OfflineSessionTTL time.Duration `koanf:"offline_session_ttl"`

	// CredentialTTL bounds how long a cached credential allows offline login (default: 30d).
	CredentialTTL time.Duration `koanf:"credential_ttl"`

	// MaxFailedAttempts is the consecutive wrong-credential threshold (default: 3).
	MaxFailedAttempts int `koanf:"max_failed_attempts"`

	// LockoutDuration is how long the lockout lasts. Zero keeps it for the
	// lifetime of the process.
	LockoutDuration time.Duration `koanf:"lockout_duration"`

	// PINSalt is the static application salt of the PIN digest.
	PINSalt string `koanf:"pin_salt"`
}

// DefaultAuthConfig returns default configuration.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		OnlineSessionTTL:  12 * time.Hour,
		OfflineSessionTTL: 7 * 24 * time.Hour,
		CredentialTTL:     30 * 24 * time.Hour,
		MaxFailedAttempts: 3,
		PINSalt:           domain.DefaultPINSalt,
	}
}

// AuthResult is the outcome of a login attempt. Failures are reported in
// Err, never as a Go error.
type AuthResult struct {
	Success   bool
	Farmer    *FarmerData
	Profile   *domain.FarmerProfile
	IsOffline bool
	Session   *domain.Session
	Err       error
}

// FarmerData identifies the authenticated farmer.
type FarmerData struct {
	FarmerID     string `json:"farmer_id"`
	TenantID     string `json:"tenant_id"`
	MobileNumber string `json:"mobile_number"`
}

// CacheAuthRequest contains the data cached for offline login.
type CacheAuthRequest struct {
	FarmerID     string
	TenantID     string
	MobileNumber string
	PIN          string
	Profile      domain.FarmerProfile
}

// AuthOption configures an OfflineAuthenticator.
type AuthOption func(*OfflineAuthenticator)

// WithAuthLogger sets the logger.
func WithAuthLogger(l *slog.Logger) AuthOption {
	return func(a *OfflineAuthenticator) {
		a.logger = l
	}
}

// WithAuthMetrics sets the metrics registry.
func WithAuthMetrics(m *metric.Registry) AuthOption {
	return func(a *OfflineAuthenticator) {
		a.metrics = m
	}
}

// WithAuthClock overrides the time source.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(a *OfflineAuthenticator) {
		a.now = now
	}
}

// OfflineAuthenticator logs a farmer in by mobile number and PIN, online
// against the remote when reachable and from the cached credential
// otherwise. The PIN is only ever handled as a digest.
type OfflineAuthenticator struct {
	store   CredentialStore
	scope   TenantScope
	remote  RemoteAuthAPI
	probe   ConnectivityProbe
	hasher  *domain.PINHasher
	config  *AuthConfig
	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	// attempt serializes logins so failures are counted exactly once.
	attempt sync.Mutex

	mu          sync.RWMutex
	state       AuthState
	session     *domain.Session
	failures    int
	locked      bool
	lockedSince time.Time
}

// NewOfflineAuthenticator creates an OfflineAuthenticator.
func NewOfflineAuthenticator(store CredentialStore, scope TenantScope, remote RemoteAuthAPI, probe ConnectivityProbe, config *AuthConfig, opts ...AuthOption) *OfflineAuthenticator {
	if config == nil {
		config = DefaultAuthConfig()
	}
	a := &OfflineAuthenticator{
		store:  store,
		scope:  scope,
		remote: remote,
		probe:  probe,
		hasher: domain.NewPINHasher(config.PINSalt),
		config: config,
		logger: slog.Default(),
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ============================================================================
// Login
// ============================================================================

// AuthenticateWithFallback logs the farmer in.
//
// With connectivity the remote credential is checked and cached. A
// network-class failure falls back to the cached credential, which is also
// the only path while offline. farmerID may be empty; when set it must match
// the account of the mobile number.
func (a *OfflineAuthenticator) AuthenticateWithFallback(ctx context.Context, mobile, pin, farmerID, tenantID string) *AuthResult {
	a.attempt.Lock()
	defer a.attempt.Unlock()

	if a.lockoutActive() {
		a.record(modeNone, outcomeLocked)
		return &AuthResult{Err: domain.ErrTooManyAttempts}
	}
	a.setState(StateIdle)

	if err := domain.ValidatePIN(pin); err != nil {
		return a.wrongCredential(modeNone, StateIdle, err)
	}
	if mobile == "" || tenantID == "" {
		a.record(modeNone, outcomeFailed)
		return &AuthResult{Err: domain.ErrInvalidArgument.WithDetails("mobile and tenant are required")}
	}

	binding, err := a.scope.ValidateContext(false)
	if err != nil {
		a.record(modeNone, outcomeRejected)
		return &AuthResult{Err: err}
	}
	if binding.TenantID != tenantID {
		a.record(modeNone, outcomeRejected)
		return &AuthResult{Err: domain.ErrCrossPartitionAccess.WithDetails("login requested for a tenant that is not active")}
	}

	digest := a.hasher.Digest(pin)

	if a.probe != nil && a.probe.IsOnline(ctx) {
		a.setState(StateOnlineAttempt)
		result, fallback := a.authenticateOnline(ctx, mobile, digest, farmerID, tenantID)
		if !fallback {
			return result
		}
	}

	a.setState(StateOfflineFallback)
	return a.authenticateOffline(ctx, mobile, digest, farmerID, tenantID)
}

// authenticateOnline returns fallback=true when the remote could not be
// reached and the cached credential must be tried instead.
func (a *OfflineAuthenticator) authenticateOnline(ctx context.Context, mobile, digest, farmerID, tenantID string) (*AuthResult, bool) {
	rc, err := a.remote.LookupCredential(ctx, tenantID, mobile)
	switch {
	case err == nil:
	case shouldFallback(err):
		a.logger.Info("remote unreachable, falling back to cached credential",
			"tenant_id", tenantID, "error", err)
		return nil, true
	case errors.Is(err, domain.ErrRemoteNotFound), errors.Is(err, domain.ErrRemoteRejected):
		return a.wrongCredential(modeOnline, StateIdle, domain.ErrWrongCredential), false
	default:
		a.setState(StateIdle)
		a.record(modeOnline, outcomeFailed)
		return &AuthResult{Err: err}, false
	}

	if (rc.TenantID != "" && rc.TenantID != tenantID) ||
		(farmerID != "" && rc.FarmerID != farmerID) ||
		!domain.DigestsEqual(digest, rc.PINHash) {
		return a.wrongCredential(modeOnline, StateIdle, domain.ErrWrongCredential), false
	}

	sess, err := a.establish(ctx, rc.FarmerID, tenantID, mobile, false)
	if err != nil {
		a.setState(StateIdle)
		a.record(modeOnline, outcomeFailed)
		return &AuthResult{Err: err}, false
	}

	// Cached only once the farmer is bound, so a refused login leaves no
	// credential and keeps the last identity where it was.
	now := a.now()
	cred := &domain.CachedCredential{
		FarmerID:        rc.FarmerID,
		TenantID:        tenantID,
		MobileNumber:    mobile,
		PINHash:         rc.PINHash,
		ProfileSnapshot: rc.Profile,
		CachedAt:        now,
		ExpiresAt:       now.Add(a.config.CredentialTTL),
	}
	if err := a.store.SaveCredential(ctx, cred); err != nil {
		a.logger.Warn("failed to cache credential", "farmer_id", rc.FarmerID, "error", err)
	}

	if err := a.remote.RecordLogin(ctx, tenantID, rc.FarmerID, now); err != nil {
		a.logger.Warn("failed to update remote login counters",
			"farmer_id", rc.FarmerID, "error", err)
	}

	a.record(modeOnline, outcomeSuccess)
	profile := rc.Profile
	return &AuthResult{
		Success: true,
		Farmer:  &FarmerData{FarmerID: rc.FarmerID, TenantID: tenantID, MobileNumber: mobile},
		Profile: &profile,
		Session: sess,
	}, false
}

func (a *OfflineAuthenticator) authenticateOffline(ctx context.Context, mobile, digest, farmerID, tenantID string) *AuthResult {
	cred, err := a.store.LoadCredential(ctx, tenantID, mobile)
	if errors.Is(err, domain.ErrNoCachedCredential) {
		a.setState(StateLocked)
		a.record(modeOffline, outcomeNoCache)
		return &AuthResult{Err: domain.ErrNoCachedCredential}
	}
	if err != nil {
		a.setState(StateLocked)
		a.record(modeOffline, outcomeFailed)
		return &AuthResult{Err: err}
	}

	now := a.now()
	if cred.IsExpiredAt(now) {
		a.setState(StateLocked)
		a.record(modeOffline, outcomeExpired)
		return &AuthResult{Err: domain.ErrCacheExpired}
	}
	if (farmerID != "" && cred.FarmerID != farmerID) || !domain.DigestsEqual(digest, cred.PINHash) {
		return a.wrongCredential(modeOffline, StateLocked, domain.ErrWrongCredential)
	}

	sess, err := a.establish(ctx, cred.FarmerID, tenantID, mobile, true)
	if err != nil {
		a.setState(StateLocked)
		a.record(modeOffline, outcomeFailed)
		return &AuthResult{Err: err}
	}

	a.record(modeOffline, outcomeSuccess)
	profile := cred.ProfileSnapshot
	return &AuthResult{
		Success:   true,
		Farmer:    &FarmerData{FarmerID: cred.FarmerID, TenantID: tenantID, MobileNumber: mobile},
		Profile:   &profile,
		IsOffline: true,
		Session:   sess,
	}
}

// establish binds the farmer and issues the session.
func (a *OfflineAuthenticator) establish(ctx context.Context, farmerID, tenantID, mobile string, offline bool) (*domain.Session, error) {
	if err := a.scope.SetUserID(farmerID); err != nil {
		return nil, err
	}

	tok, err := token.New()
	if err != nil {
		return nil, domain.ErrInternal.WithCause(err)
	}
	ttl := a.config.OnlineSessionTTL
	if offline {
		ttl = a.config.OfflineSessionTTL
	}
	sess, err := domain.NewSession(farmerID, tenantID, mobile, tok, a.now(), ttl, offline)
	if err != nil {
		return nil, err
	}
	sess.TokenHash = token.Digest(tok)

	a.persistSession(ctx, sess)

	a.mu.Lock()
	a.session = sess
	a.state = StateAuthenticated
	a.failures = 0
	a.mu.Unlock()

	a.logger.Info("farmer authenticated",
		"farmer_id", farmerID,
		"tenant_id", tenantID,
		"session_id", sess.ID,
		"offline", offline)
	return sess.Clone(), nil
}

// persistSession stores the session without its plaintext token. A failure
// only costs the ability to resume after restart.
func (a *OfflineAuthenticator) persistSession(ctx context.Context, sess *domain.Session) {
	stored := sess.Clone()
	stored.Token = ""
	if err := a.store.SaveSession(ctx, stored); err != nil {
		a.logger.Warn("failed to persist session", "session_id", sess.ID, "error", err)
	}
}

func (a *OfflineAuthenticator) wrongCredential(mode string, state AuthState, err error) *AuthResult {
	a.mu.Lock()
	a.failures++
	a.state = state
	lockedNow := a.failures >= a.config.MaxFailedAttempts && a.config.MaxFailedAttempts > 0
	if lockedNow {
		a.locked = true
		a.lockedSince = a.now()
		a.state = StateLocked
	}
	failures := a.failures
	a.mu.Unlock()

	a.record(mode, outcomeWrong)
	if lockedNow {
		a.metrics.IncLockout()
		a.logger.Warn("login locked after consecutive failures", "failures", failures)
	}
	return &AuthResult{Err: err}
}

func (a *OfflineAuthenticator) lockoutActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.locked {
		return false
	}
	if a.config.LockoutDuration > 0 && !a.now().Before(a.lockedSince.Add(a.config.LockoutDuration)) {
		a.locked = false
		a.failures = 0
		return false
	}
	a.state = StateLocked
	return true
}

// shouldFallback reports whether a remote error is network-class.
func shouldFallback(err error) bool {
	return domain.IsTransportError(err) ||
		errors.Is(err, domain.ErrRemoteProtocol) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (a *OfflineAuthenticator) record(mode, outcome string) {
	a.metrics.RecordAuthAttempt(mode, outcome)
}

func (a *OfflineAuthenticator) setState(s AuthState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// ============================================================================
// Credential cache
// ============================================================================

// CacheAuthData stores the hashed credential and profile snapshot for
// offline login. The PIN is digested before it is stored.
func (a *OfflineAuthenticator) CacheAuthData(ctx context.Context, req *CacheAuthRequest) error {
	if req == nil || req.FarmerID == "" || req.TenantID == "" || req.MobileNumber == "" {
		return domain.ErrInvalidArgument.WithDetails("farmer, tenant and mobile are required")
	}
	if err := domain.ValidatePIN(req.PIN); err != nil {
		return err
	}

	now := a.now()
	return a.store.SaveCredential(ctx, &domain.CachedCredential{
		FarmerID:        req.FarmerID,
		TenantID:        req.TenantID,
		MobileNumber:    req.MobileNumber,
		PINHash:         a.hasher.Digest(req.PIN),
		ProfileSnapshot: req.Profile,
		CachedAt:        now,
		ExpiresAt:       now.Add(a.config.CredentialTTL),
	})
}

// GetCachedAuthData returns the last cached identity without its PIN
// digest. It does not consult the tenancy context.
func (a *OfflineAuthenticator) GetCachedAuthData(ctx context.Context) (*domain.CachedIdentity, error) {
	cred, err := a.store.LastIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return cred.Identity(), nil
}

// ============================================================================
// Session
// ============================================================================

// CurrentSession returns the active session. A session is valid up to and
// including its expiry instant.
func (a *OfflineAuthenticator) CurrentSession(ctx context.Context) (*domain.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.session == nil {
		return nil, domain.ErrNotAuthenticated
	}
	if a.session.IsExpiredAt(a.now()) {
		return nil, domain.ErrSessionExpired
	}
	return a.session.Clone(), nil
}

// ValidateToken checks a session token handed out at login.
func (a *OfflineAuthenticator) ValidateToken(ctx context.Context, tok string) (*domain.Session, error) {
	sess, err := a.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if !token.Verify(tok, sess.TokenHash) {
		return nil, domain.ErrNotAuthenticated
	}
	return sess, nil
}

// Revalidate checks an offline-issued session against the remote once it
// is reachable. A confirmed session becomes an online session, a rejected
// one is logged out with ErrSessionRevoked, and a transport failure keeps
// the offline session.
func (a *OfflineAuthenticator) Revalidate(ctx context.Context) error {
	sess, err := a.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if !sess.IsOffline {
		return nil
	}
	if a.probe == nil || !a.probe.IsOnline(ctx) {
		return nil
	}

	rc, err := a.remote.LookupCredential(ctx, sess.TenantID, sess.Mobile)
	switch {
	case err == nil:
	case shouldFallback(err):
		a.logger.Debug("revalidation deferred, remote unreachable", "error", err)
		return err
	case errors.Is(err, domain.ErrRemoteNotFound), errors.Is(err, domain.ErrRemoteRejected):
		return a.revoke(ctx, sess, "remote rejected credential")
	default:
		return err
	}

	cached, err := a.store.LoadCredential(ctx, sess.TenantID, sess.Mobile)
	if err != nil && !errors.Is(err, domain.ErrNoCachedCredential) {
		return err
	}
	if cached == nil || rc.FarmerID != sess.FarmerID || !domain.DigestsEqual(cached.PINHash, rc.PINHash) {
		return a.revoke(ctx, sess, "credential changed remotely")
	}

	now := a.now()
	cached.ProfileSnapshot = rc.Profile
	cached.CachedAt = now
	cached.ExpiresAt = now.Add(a.config.CredentialTTL)
	if err := a.store.SaveCredential(ctx, cached); err != nil {
		a.logger.Warn("failed to refresh cached credential", "farmer_id", sess.FarmerID, "error", err)
	}

	a.mu.Lock()
	if a.session == nil || a.session.ID != sess.ID {
		a.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	a.session.IsOffline = false
	a.session.ExpiresAt = now.Add(a.config.OnlineSessionTTL).UnixMilli()
	upgraded := a.session.Clone()
	a.mu.Unlock()

	a.persistSession(ctx, upgraded)
	a.logger.Info("offline session revalidated", "session_id", sess.ID, "farmer_id", sess.FarmerID)
	return nil
}

func (a *OfflineAuthenticator) revoke(ctx context.Context, sess *domain.Session, reason string) error {
	a.logger.Warn("session revoked", "session_id", sess.ID, "farmer_id", sess.FarmerID, "reason", reason)
	if err := a.Logout(ctx); err != nil {
		a.logger.Error("logout after revocation failed", "error", err)
	}
	return domain.ErrSessionRevoked
}

// Logout ends the session, purges the farmer's cached credential and
// clears the tenancy context.
func (a *OfflineAuthenticator) Logout(ctx context.Context) error {
	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.state = StateIdle
	a.mu.Unlock()

	var errs []error
	if err := a.store.DeleteSession(ctx); err != nil {
		errs = append(errs, err)
	}
	if sess != nil {
		if err := a.store.DeleteCredential(ctx, sess.TenantID, sess.Mobile); err != nil {
			errs = append(errs, err)
		}
		a.logger.Info("farmer logged out", "session_id", sess.ID, "farmer_id", sess.FarmerID)
	}
	a.scope.ClearContext()
	return errors.Join(errs...)
}

// ResumeSession restores the persisted session of the active tenant after a
// restart. An expired session is discarded.
func (a *OfflineAuthenticator) ResumeSession(ctx context.Context) (*domain.Session, error) {
	binding, err := a.scope.ValidateContext(false)
	if err != nil {
		return nil, err
	}

	sess, err := a.store.LoadSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != binding.TenantID {
		return nil, domain.ErrNotAuthenticated
	}
	if sess.IsExpiredAt(a.now()) {
		if err := a.store.DeleteSession(ctx); err != nil {
			a.logger.Warn("failed to discard expired session", "error", err)
		}
		return nil, domain.ErrSessionExpired
	}
	if err := a.scope.SetUserID(sess.FarmerID); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.session = sess
	a.state = StateAuthenticated
	a.mu.Unlock()

	a.logger.Debug("session resumed", "session_id", sess.ID, "offline", sess.IsOffline)
	return sess.Clone(), nil
}

// State returns the current login state.
func (a *OfflineAuthenticator) State() AuthState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// FailedAttempts returns the consecutive wrong-credential count.
func (a *OfflineAuthenticator) FailedAttempts() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failures
}
