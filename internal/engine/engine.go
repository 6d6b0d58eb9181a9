package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/farmsync-go/internal/agent/config"
	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/service"
	"github.com/yndnr/farmsync-go/internal/core/tenancy"
	"github.com/yndnr/farmsync-go/internal/remote"
	"github.com/yndnr/farmsync-go/internal/storage"
	"github.com/yndnr/farmsync-go/internal/telemetry/metric"
	"github.com/yndnr/farmsync-go/pkg/crypto/adaptive"
)

// Remote is everything the engine needs from the remote system.
type Remote interface {
	service.RemoteAuthAPI
	service.RemoteDataAPI
	service.ConnectivityProbe
}

// Deps are optional collaborators. Zero values are built from the config.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Registry

	// Remote defaults to the HTTP client of cfg.Remote.
	Remote Remote

	// KV is an already open engine. The engine does not close it.
	KV *storage.BadgerEngine

	Clock func() time.Time
}

// Engine is the FarmSync composition root.
type Engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	kv     *storage.BadgerEngine
	ownsKV bool
	scope  *tenancy.Context
	store  *storage.LocalStore
	remote Remote
	auth   *service.OfflineAuthenticator
	sync   *service.SyncEngine

	trigger chan struct{}

	mu     sync.RWMutex
	tenant config.TenantSection

	closeOnce sync.Once
}

// New builds the engine. Nothing is bound until Boot.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	e := &Engine{
		cfg:     cfg,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     deps.Clock,
		kv:      deps.KV,
		remote:  deps.Remote,
		trigger: make(chan struct{}, 1),
		tenant:  cfg.Tenant,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}

	if e.remote == nil {
		client, err := remote.New(cfg.Remote, remote.WithLogger(e.logger.With("component", "remote")))
		if err != nil {
			return nil, fmt.Errorf("engine: remote client: %w", err)
		}
		e.remote = client
	}

	storeOpts := []storage.Option{
		storage.WithLogger(e.logger.With("component", "store")),
		storage.WithClock(e.now),
	}
	if cfg.Storage.EncryptionKey != "" {
		c, err := newCipher(cfg.Storage)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, storage.WithCipher(c))
	}

	if e.kv == nil {
		kv, err := storage.NewBadgerEngine(cfg.Storage.KV(), e.logger.With("component", "badger"))
		if err != nil {
			return nil, fmt.Errorf("engine: open store: %w", err)
		}
		e.kv = kv
		e.ownsKV = true
		if e.metrics != nil {
			kv.RegisterMetrics(e.metrics.Registerer())
		}
	}

	e.scope = tenancy.New(tenancy.WithClock(e.now))
	e.store = storage.NewLocalStore(e.kv, e.scope, storeOpts...)

	authCfg := cfg.Auth
	e.auth = service.NewOfflineAuthenticator(e.store, e.scope, e.remote, e.remote, &authCfg,
		service.WithAuthLogger(e.logger.With("component", "auth")),
		service.WithAuthMetrics(e.metrics),
		service.WithAuthClock(e.now))

	syncCfg := cfg.Sync
	e.sync = service.NewSyncEngine(e.store, e.store.Reconciler(), e.scope, e.remote, e.remote, &syncCfg,
		service.WithSyncLogger(e.logger.With("component", "sync")),
		service.WithSyncMetrics(e.metrics),
		service.WithSyncClock(e.now))

	e.scope.OnMismatch(e.onTenantMismatch)

	if e.metrics != nil {
		e.metrics.MustRegister(metric.NewSessionCollector(e.sessionState))
	}
	return e, nil
}

func newCipher(s config.StorageSection) (adaptive.Cipher, error) {
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("engine: storage.encryption_key: %w", err)
	}
	if s.Cipher == "" || s.Cipher == config.DefaultCipher {
		return adaptive.New(key)
	}
	return adaptive.NewWithType(key, adaptive.CipherType(s.Cipher))
}

// Close drains pending writes and closes the database if the engine
// opened it.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.store.Close()
		if e.ownsKV {
			err = errors.Join(err, e.kv.Close())
		}
	})
	return err
}

// Boot establishes the configured tenant, opens its partition and resumes
// the persisted session if one is still valid. A missing or expired
// session is not an error; the returned session is nil then.
func (e *Engine) Boot(ctx context.Context) (*domain.Session, error) {
	if err := e.restoreTenant(ctx); err != nil {
		return nil, err
	}

	sess, err := e.auth.ResumeSession(ctx)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrSessionExpired):
		e.logger.Debug("no session to resume", "reason", err)
		return nil, nil
	default:
		return nil, err
	}
}

// Tenant returns the tenant the device is configured for.
func (e *Engine) Tenant() config.TenantSection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tenant
}

func (e *Engine) restoreTenant(ctx context.Context) error {
	t := e.Tenant()
	return e.establishTenant(ctx, t.ID, t.Domain)
}

func (e *Engine) establishTenant(ctx context.Context, tenantID, tenantDomain string) error {
	if err := e.scope.SetTenantContext(tenantID, tenantDomain); err != nil {
		return err
	}
	return e.store.InitializeWithTenant(ctx, tenantID)
}

// SwitchTenant moves the device to another tenant. If a farmer of the old
// tenant is bound, the mismatch handler wipes that farmer's partition and
// ends the session before the new tenant is established.
func (e *Engine) SwitchTenant(ctx context.Context, tenantID, tenantDomain string) error {
	err := e.establishTenant(ctx, tenantID, tenantDomain)
	if errors.Is(err, domain.ErrTenantMismatch) {
		// The handler has cleared the context.
		err = e.establishTenant(ctx, tenantID, tenantDomain)
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.tenant = config.TenantSection{ID: tenantID, Domain: tenantDomain}
	e.mu.Unlock()
	return nil
}

func (e *Engine) onTenantMismatch(bound domain.TenantContext, requested string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.logger.Warn("tenant mismatch, clearing bound partition",
		"bound_tenant", bound.TenantID,
		"farmer_id", bound.UserID,
		"requested_tenant", requested)

	if err := e.store.ClearPartition(ctx, bound.TenantID, bound.UserID); err != nil {
		e.logger.Error("failed to clear partition on tenant mismatch", "error", err)
	}
	if err := e.auth.Logout(ctx); err != nil {
		e.logger.Warn("logout on tenant mismatch incomplete", "error", err)
	}
	e.scope.ClearContext()
}

// Login authenticates a farmer of the configured tenant.
func (e *Engine) Login(ctx context.Context, mobile, pin, farmerID string) *service.AuthResult {
	res := e.auth.AuthenticateWithFallback(ctx, mobile, pin, farmerID, e.Tenant().ID)
	if res.Success {
		e.Trigger()
	}
	return res
}

// Logout ends the session and re-establishes the tenant so the device is
// ready for the next login.
func (e *Engine) Logout(ctx context.Context) error {
	err := e.auth.Logout(ctx)
	if terr := e.restoreTenant(ctx); terr != nil {
		err = errors.Join(err, terr)
	}
	return err
}

// Sync runs one sync of the bound farmer's partition.
func (e *Engine) Sync(ctx context.Context, force bool) *service.SyncReport {
	return e.sync.PerformSync(ctx, force)
}

// SyncAsync starts a sync and returns its report channel.
func (e *Engine) SyncAsync(ctx context.Context, force bool) <-chan *service.SyncReport {
	return e.sync.PerformSyncAsync(ctx, force)
}

// Subscribe streams sync status events.
func (e *Engine) Subscribe() (<-chan service.StatusEvent, func()) {
	return e.sync.Subscribe()
}

// Records returns the local store.
func (e *Engine) Records() *storage.LocalStore {
	return e.store
}

// Auth returns the authenticator.
func (e *Engine) Auth() *service.OfflineAuthenticator {
	return e.auth
}

// CachedIdentity returns the last identity cached on this device.
func (e *Engine) CachedIdentity(ctx context.Context) (*domain.CachedIdentity, error) {
	return e.auth.GetCachedAuthData(ctx)
}

// IsOnline probes the remote.
func (e *Engine) IsOnline(ctx context.Context) bool {
	return e.remote.IsOnline(ctx)
}

// WatchClientCert keeps the remote mutual TLS certificate fresh. It
// returns at once when the remote has none.
func (e *Engine) WatchClientCert(ctx context.Context) error {
	if w, ok := e.remote.(interface{ WatchClientCert(context.Context) error }); ok {
		return w.WatchClientCert(ctx)
	}
	return nil
}

func (e *Engine) sessionState() metric.SessionState {
	sess, err := e.auth.CurrentSession(context.Background())
	if err != nil {
		return metric.SessionState{}
	}
	return metric.SessionState{
		Authenticated: true,
		Offline:       sess.IsOffline,
		TTLSeconds:    sess.TTLAt(e.now()).Seconds(),
	}
}

// StorageStats reports the size of the device database.
func (e *Engine) StorageStats(ctx context.Context) (*storage.KVStats, error) {
	return e.kv.Stats(ctx)
}

// Compact runs value log garbage collection and returns the number of
// files rewritten.
func (e *Engine) Compact(ctx context.Context) (uint64, error) {
	return e.kv.GC(ctx)
}
