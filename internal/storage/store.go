package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/tenancy"
	"github.com/yndnr/farmsync-go/pkg/crypto/adaptive"
)

// Scope validates the active tenant/farmer binding.
type Scope interface {
	ValidateContext(requireUser bool) (tenancy.Binding, error)
}

// Filter narrows List results.
type Filter struct {
	// IncludeDeleted also returns tombstones.
	IncludeDeleted bool

	// DirtyOnly returns only records not yet confirmed by the remote.
	DirtyOnly bool

	// UpdatedSince drops records last updated at or before this time.
	UpdatedSince time.Time

	// Limit caps the number of results. Zero means no limit.
	Limit int

	// Match is an optional predicate applied last.
	Match func(*domain.LocalRecord) bool
}

func (f Filter) accept(rec *domain.LocalRecord) bool {
	if rec.DeletedTombstone && !f.IncludeDeleted {
		return false
	}
	if f.DirtyOnly && !rec.Dirty {
		return false
	}
	if !f.UpdatedSince.IsZero() && !rec.UpdatedAt.After(f.UpdatedSince) {
		return false
	}
	if f.Match != nil && !f.Match(rec) {
		return false
	}
	return true
}

type partitionMarker struct {
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

type identityPointer struct {
	TenantID     string `json:"tenant_id"`
	MobileNumber string `json:"mobile_number"`
}

// LocalStore is the device-resident, tenant-partitioned record store.
//
// Every record operation validates the tenancy binding first and only ever
// builds keys under the (tenant, farmer) partition of that binding. Writes
// of a partition go through its single-writer queue; reads run against
// badger snapshots and never wait on the queue.
type LocalStore struct {
	kv      *BadgerEngine
	scope   Scope
	cipher  adaptive.Cipher
	logger  *slog.Logger
	now     func() time.Time
	writers *writerPool

	mu       sync.RWMutex
	tenantID string
}

// Option configures a LocalStore.
type Option func(*LocalStore)

// WithCipher seals every stored value with c, using the key as associated
// data.
func WithCipher(c adaptive.Cipher) Option {
	return func(s *LocalStore) {
		s.cipher = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *LocalStore) {
		s.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *LocalStore) {
		s.now = now
	}
}

// NewLocalStore creates a store over kv. The store does not own kv.
func NewLocalStore(kv *BadgerEngine, scope Scope, opts ...Option) *LocalStore {
	s := &LocalStore{
		kv:      kv,
		scope:   scope,
		logger:  slog.Default(),
		now:     time.Now,
		writers: newWriterPool(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops the partition writers after draining queued writes.
func (s *LocalStore) Close() error {
	s.writers.close()
	return nil
}

// InitializeWithTenant opens or creates the partition of tenantID. It is
// idempotent. tenantID must be the tenant of the active context.
func (s *LocalStore) InitializeWithTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return domain.ErrInvalidArgument.WithDetails("tenant_id is required")
	}
	b, err := s.scope.ValidateContext(false)
	if err != nil {
		return err
	}
	if b.TenantID != tenantID {
		return domain.ErrCrossPartitionAccess.WithDetails("partition tenant differs from active context")
	}

	key := partitionMarkerKey(tenantID)
	created := false
	err = s.writers.submit(ctx, partitionID(tenantID, ""), func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			if _, err := getValue(txn, key); err == nil {
				return nil
			} else if !errors.Is(err, ErrKeyNotFound) {
				return err
			}
			data, err := s.encode(key, partitionMarker{TenantID: tenantID, CreatedAt: s.now().UTC()})
			if err != nil {
				return err
			}
			created = true
			return txn.Set(key, data)
		})
	})
	if err != nil {
		return storageErr(err)
	}

	s.mu.Lock()
	s.tenantID = tenantID
	s.mu.Unlock()

	s.logger.Info("tenant partition ready", "tenant_id", tenantID, "created", created)
	return nil
}

// TenantID returns the tenant the store was initialized with.
func (s *LocalStore) TenantID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenantID
}

// partition validates the binding and returns it. A non-empty owner must be
// the bound farmer.
func (s *LocalStore) partition(owner string) (tenancy.Binding, error) {
	b, err := s.scope.ValidateContext(true)
	if err != nil {
		return tenancy.Binding{}, err
	}

	s.mu.RLock()
	tenant := s.tenantID
	s.mu.RUnlock()

	if tenant == "" {
		return tenancy.Binding{}, domain.ErrPartitionNotInitialized
	}
	if tenant != b.TenantID {
		return tenancy.Binding{}, domain.ErrCrossPartitionAccess.WithDetails("store partition belongs to another tenant")
	}
	if owner != "" && owner != b.UserID {
		return tenancy.Binding{}, domain.ErrCrossPartitionAccess.WithDetails("owner differs from bound farmer")
	}
	return b, nil
}

// Get returns a live record of the bound farmer. Missing and tombstoned
// records are ErrRecordNotFound.
func (s *LocalStore) Get(ctx context.Context, entityType domain.EntityType, entityID, ownerFarmerID string) (*domain.LocalRecord, error) {
	if !domain.IsKnownEntityType(entityType) {
		return nil, domain.ErrUnknownEntityType.WithDetails(string(entityType))
	}
	b, err := s.partition(ownerFarmerID)
	if err != nil {
		return nil, err
	}

	var rec *domain.LocalRecord
	err = s.kv.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.loadRecord(txn, recordKey(b.TenantID, b.UserID, entityType, entityID), b)
		return err
	})
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrRecordNotFound.WithDetails(fmt.Sprintf("%s/%s", entityType, entityID))
	}
	if err != nil {
		return nil, storageErr(err)
	}
	if rec.DeletedTombstone {
		return nil, domain.ErrRecordNotFound.WithDetails(fmt.Sprintf("%s/%s", entityType, entityID))
	}
	if err := upgradePayload(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the bound farmer's records of one entity type ordered by
// entity id.
func (s *LocalStore) List(ctx context.Context, entityType domain.EntityType, filter Filter, ownerFarmerID string) ([]*domain.LocalRecord, error) {
	if !domain.IsKnownEntityType(entityType) {
		return nil, domain.ErrUnknownEntityType.WithDetails(string(entityType))
	}
	b, err := s.partition(ownerFarmerID)
	if err != nil {
		return nil, err
	}

	var records []*domain.LocalRecord
	err = s.kv.View(func(txn *badger.Txn) error {
		var err error
		records, err = s.scanRecords(txn, recordPrefix(b.TenantID, b.UserID, entityType), b, filter.accept)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].EntityID < records[j].EntityID
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	for _, rec := range records {
		if err := upgradePayload(rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Put validates and stores a record for the bound farmer and returns the
// stored copy. The record is marked dirty and its localVersion bumped.
func (s *LocalStore) Put(ctx context.Context, rec *domain.LocalRecord) (*domain.LocalRecord, error) {
	if rec == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("record is required")
	}
	b, err := s.partition(rec.OwnerFarmerID)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != "" && rec.TenantID != b.TenantID {
		return nil, domain.ErrCrossPartitionAccess.WithDetails("record tenant differs from active context")
	}
	if !domain.IsKnownEntityType(rec.EntityType) {
		return nil, domain.ErrUnknownEntityType.WithDetails(string(rec.EntityType))
	}

	now := s.now().UTC()
	entityID := rec.EntityID
	if entityID == "" {
		if entityID, err = domain.GenerateEntityID(now); err != nil {
			return nil, err
		}
	} else if err := domain.ValidateEntityID(entityID); err != nil {
		return nil, err
	}

	payload, version, err := domain.NormalizePayload(rec.EntityType, rec.SchemaVersion, rec.Payload)
	if err != nil {
		return nil, err
	}

	stored := &domain.LocalRecord{
		EntityType:    rec.EntityType,
		EntityID:      entityID,
		TenantID:      b.TenantID,
		OwnerFarmerID: b.UserID,
		Payload:       payload,
		SchemaVersion: version,
		Dirty:         true,
		UpdatedAt:     now,
	}
	key := recordKey(b.TenantID, b.UserID, rec.EntityType, entityID)

	err = s.writers.submit(ctx, partitionID(b.TenantID, b.UserID), func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			prev, err := s.loadRecord(txn, key, b)
			switch {
			case err == nil:
				stored.LocalVersion = prev.LocalVersion + 1
				stored.RemoteVersion = prev.RemoteVersion
			case errors.Is(err, ErrKeyNotFound):
				stored.LocalVersion = 1
			default:
				return err
			}
			return s.writeRecord(txn, key, stored)
		})
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.logger.Debug("record stored",
		"entity_type", stored.EntityType,
		"entity_id", stored.EntityID,
		"local_version", stored.LocalVersion)
	return stored.Clone(), nil
}

// Delete tombstones a live record of the bound farmer. The tombstone is
// removed once the sync engine confirms the delete.
func (s *LocalStore) Delete(ctx context.Context, entityType domain.EntityType, entityID string) error {
	if !domain.IsKnownEntityType(entityType) {
		return domain.ErrUnknownEntityType.WithDetails(string(entityType))
	}
	b, err := s.partition("")
	if err != nil {
		return err
	}

	key := recordKey(b.TenantID, b.UserID, entityType, entityID)
	err = s.writers.submit(ctx, partitionID(b.TenantID, b.UserID), func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			rec, err := s.loadRecord(txn, key, b)
			if err != nil {
				return err
			}
			if rec.DeletedTombstone {
				return ErrKeyNotFound
			}
			rec.DeletedTombstone = true
			rec.Dirty = true
			rec.LocalVersion++
			rec.UpdatedAt = s.now().UTC()
			return s.writeRecord(txn, key, rec)
		})
	})
	if errors.Is(err, ErrKeyNotFound) {
		return domain.ErrRecordNotFound.WithDetails(fmt.Sprintf("%s/%s", entityType, entityID))
	}
	return storageErr(err)
}

// GetSyncMetadata returns the sync bookkeeping of the bound partition.
func (s *LocalStore) GetSyncMetadata(ctx context.Context) (*domain.SyncMetadata, error) {
	b, err := s.partition("")
	if err != nil {
		return nil, err
	}

	key := metadataKey(b.TenantID, b.UserID)
	meta := domain.NewSyncMetadata()
	err = s.kv.View(func(txn *badger.Txn) error {
		data, err := getValue(txn, key)
		if err != nil {
			return err
		}
		return s.decode(key, data, meta)
	})
	if errors.Is(err, ErrKeyNotFound) {
		return domain.NewSyncMetadata(), nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return meta, nil
}

// SetSyncMetadata replaces the sync bookkeeping of the bound partition.
func (s *LocalStore) SetSyncMetadata(ctx context.Context, meta *domain.SyncMetadata) error {
	if meta == nil {
		return domain.ErrInvalidArgument.WithDetails("metadata is required")
	}
	b, err := s.partition("")
	if err != nil {
		return err
	}

	key := metadataKey(b.TenantID, b.UserID)
	err = s.writers.submit(ctx, partitionID(b.TenantID, b.UserID), func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			data, err := s.encode(key, meta)
			if err != nil {
				return err
			}
			return txn.Set(key, data)
		})
	})
	return storageErr(err)
}

type lastRun struct {
	FinishedAt time.Time `json:"finished_at"`
}

// LastSyncRun returns the device time the last sync run of the bound
// partition finished, or the zero time if none did.
func (s *LocalStore) LastSyncRun(ctx context.Context) (time.Time, error) {
	b, err := s.partition("")
	if err != nil {
		return time.Time{}, err
	}

	key := lastRunKey(b.TenantID, b.UserID)
	var run lastRun
	err = s.kv.View(func(txn *badger.Txn) error {
		data, err := getValue(txn, key)
		if err != nil {
			return err
		}
		return s.decode(key, data, &run)
	})
	if errors.Is(err, ErrKeyNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storageErr(err)
	}
	return run.FinishedAt, nil
}

// SetLastSyncRun records the device time a sync run of the bound partition
// finished. It is kept apart from SyncMetadata, which only carries server
// derived state.
func (s *LocalStore) SetLastSyncRun(ctx context.Context, at time.Time) error {
	b, err := s.partition("")
	if err != nil {
		return err
	}

	key := lastRunKey(b.TenantID, b.UserID)
	err = s.writers.submit(ctx, partitionID(b.TenantID, b.UserID), func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			data, err := s.encode(key, lastRun{FinishedAt: at.UTC()})
			if err != nil {
				return err
			}
			return txn.Set(key, data)
		})
	})
	return storageErr(err)
}

// ClearAll wipes the records, sync metadata, cached credentials and
// persisted session of the bound farmer.
func (s *LocalStore) ClearAll(ctx context.Context) error {
	b, err := s.scope.ValidateContext(true)
	if err != nil {
		return err
	}
	return s.ClearPartition(ctx, b.TenantID, b.UserID)
}

// ClearPartition wipes the partition of (tenantID, ownerFarmerID) without
// consulting the tenancy context. It is used on tenant mismatch, when the
// context no longer validates but the binding captured at mismatch time
// names the partition to purge.
func (s *LocalStore) ClearPartition(ctx context.Context, tenantID, ownerFarmerID string) error {
	if tenantID == "" || ownerFarmerID == "" {
		return domain.ErrInvalidArgument.WithDetails("tenant_id and owner_farmer_id are required")
	}

	var removed int
	err := s.writers.submit(ctx, partitionID(tenantID, ownerFarmerID), func() error {
		var err error
		removed, err = s.kv.DeletePrefix(ctx, ownerPrefix(tenantID, ownerFarmerID))
		return err
	})
	if err != nil {
		return storageErr(err)
	}

	var credentials int
	err = s.writers.submit(ctx, deviceQueue, func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			var err error
			credentials, err = s.purgeFarmerDeviceData(txn, tenantID, ownerFarmerID)
			return err
		})
	})
	if err != nil {
		return storageErr(err)
	}

	s.logger.Info("partition cleared",
		"tenant_id", tenantID,
		"farmer_id", ownerFarmerID,
		"keys_removed", removed,
		"credentials_removed", credentials)
	return nil
}

func (s *LocalStore) purgeFarmerDeviceData(txn *badger.Txn, tenantID, farmerID string) (int, error) {
	var doomed []*domain.CachedCredential
	prefix := credentialPrefix(tenantID)
	var decodeErr error
	err := scanPrefix(txn, prefix, func(key, value []byte) bool {
		cred := &domain.CachedCredential{}
		if err := s.decode(key, value, cred); err != nil {
			decodeErr = err
			return false
		}
		if cred.FarmerID == farmerID {
			doomed = append(doomed, cred)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if decodeErr != nil {
		return 0, decodeErr
	}

	for _, cred := range doomed {
		if err := s.deleteCredentialTxn(txn, cred.TenantID, cred.MobileNumber); err != nil {
			return 0, err
		}
	}

	sess, err := s.loadSessionTxn(txn)
	switch {
	case err == nil:
		if sess.TenantID == tenantID && sess.FarmerID == farmerID {
			if err := txn.Delete(sessionKey); err != nil {
				return 0, err
			}
		}
	case !errors.Is(err, ErrKeyNotFound):
		return 0, err
	}
	return len(doomed), nil
}

// ============================================================================
// Credentials and session
// ============================================================================

// SaveCredential stores cred and makes it the last cached identity.
func (s *LocalStore) SaveCredential(ctx context.Context, cred *domain.CachedCredential) error {
	if cred == nil || cred.TenantID == "" || cred.MobileNumber == "" || cred.FarmerID == "" {
		return domain.ErrInvalidArgument.WithDetails("credential requires tenant, mobile and farmer")
	}
	if cred.PINHash == "" {
		return domain.ErrInvalidArgument.WithDetails("credential requires a pin digest")
	}

	key := credentialKey(cred.TenantID, cred.MobileNumber)
	err := s.writers.submit(ctx, deviceQueue, func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			data, err := s.encode(key, cred)
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
			ptr, err := s.encode(lastIdentityKey, identityPointer{TenantID: cred.TenantID, MobileNumber: cred.MobileNumber})
			if err != nil {
				return err
			}
			return txn.Set(lastIdentityKey, ptr)
		})
	})
	return storageErr(err)
}

// LoadCredential returns the cached credential of (tenantID, mobile).
func (s *LocalStore) LoadCredential(ctx context.Context, tenantID, mobile string) (*domain.CachedCredential, error) {
	var cred *domain.CachedCredential
	err := s.kv.View(func(txn *badger.Txn) error {
		var err error
		cred, err = s.loadCredentialTxn(txn, tenantID, mobile)
		return err
	})
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrNoCachedCredential
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return cred, nil
}

// DeleteCredential removes the cached credential of (tenantID, mobile).
// Deleting a missing credential is not an error.
func (s *LocalStore) DeleteCredential(ctx context.Context, tenantID, mobile string) error {
	err := s.writers.submit(ctx, deviceQueue, func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			return s.deleteCredentialTxn(txn, tenantID, mobile)
		})
	})
	return storageErr(err)
}

// LastIdentity returns the most recently cached credential on this device.
func (s *LocalStore) LastIdentity(ctx context.Context) (*domain.CachedCredential, error) {
	var cred *domain.CachedCredential
	err := s.kv.View(func(txn *badger.Txn) error {
		data, err := getValue(txn, lastIdentityKey)
		if err != nil {
			return err
		}
		var ptr identityPointer
		if err := s.decode(lastIdentityKey, data, &ptr); err != nil {
			return err
		}
		cred, err = s.loadCredentialTxn(txn, ptr.TenantID, ptr.MobileNumber)
		return err
	})
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrNoCachedCredential
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return cred, nil
}

func (s *LocalStore) loadCredentialTxn(txn *badger.Txn, tenantID, mobile string) (*domain.CachedCredential, error) {
	key := credentialKey(tenantID, mobile)
	data, err := getValue(txn, key)
	if err != nil {
		return nil, err
	}
	cred := &domain.CachedCredential{}
	if err := s.decode(key, data, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *LocalStore) deleteCredentialTxn(txn *badger.Txn, tenantID, mobile string) error {
	if err := txn.Delete(credentialKey(tenantID, mobile)); err != nil {
		return err
	}

	data, err := getValue(txn, lastIdentityKey)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var ptr identityPointer
	if err := s.decode(lastIdentityKey, data, &ptr); err != nil {
		return err
	}
	if ptr.TenantID == tenantID && ptr.MobileNumber == mobile {
		return txn.Delete(lastIdentityKey)
	}
	return nil
}

// SaveSession persists the active session so a restarted process can
// resume it.
func (s *LocalStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	if sess == nil {
		return domain.ErrInvalidArgument.WithDetails("session is required")
	}
	err := s.writers.submit(ctx, deviceQueue, func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			data, err := s.encode(sessionKey, sess)
			if err != nil {
				return err
			}
			return txn.Set(sessionKey, data)
		})
	})
	return storageErr(err)
}

// LoadSession returns the persisted session, or ErrNotAuthenticated.
func (s *LocalStore) LoadSession(ctx context.Context) (*domain.Session, error) {
	var sess *domain.Session
	err := s.kv.View(func(txn *badger.Txn) error {
		var err error
		sess, err = s.loadSessionTxn(txn)
		return err
	})
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrNotAuthenticated
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return sess, nil
}

// DeleteSession removes the persisted session.
func (s *LocalStore) DeleteSession(ctx context.Context) error {
	err := s.writers.submit(ctx, deviceQueue, func() error {
		return s.kv.Update(func(txn *badger.Txn) error {
			return txn.Delete(sessionKey)
		})
	})
	return storageErr(err)
}

func (s *LocalStore) loadSessionTxn(txn *badger.Txn) (*domain.Session, error) {
	data, err := getValue(txn, sessionKey)
	if err != nil {
		return nil, err
	}
	sess := &domain.Session{}
	if err := s.decode(sessionKey, data, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Backup streams a full backup of the device database to w.
func (s *LocalStore) Backup(ctx context.Context, w io.Writer) (uint64, error) {
	since, err := s.kv.Backup(ctx, w)
	if err != nil {
		return 0, storageErr(err)
	}
	return since, nil
}

// Restore loads a backup produced by Backup, typically into a fresh
// database. Keys written after the backup was taken keep their newer value.
func (s *LocalStore) Restore(ctx context.Context, r io.Reader) error {
	return storageErr(s.kv.Restore(ctx, r))
}

// ============================================================================
// Record encoding
// ============================================================================

func (s *LocalStore) loadRecord(txn *badger.Txn, key []byte, b tenancy.Binding) (*domain.LocalRecord, error) {
	data, err := getValue(txn, key)
	if err != nil {
		return nil, err
	}
	return s.decodeRecord(key, data, b)
}

func (s *LocalStore) decodeRecord(key, data []byte, b tenancy.Binding) (*domain.LocalRecord, error) {
	rec := &domain.LocalRecord{}
	if err := s.decode(key, data, rec); err != nil {
		return nil, err
	}
	if rec.TenantID != b.TenantID || rec.OwnerFarmerID != b.UserID {
		return nil, domain.ErrPartitionCorrupt.WithDetails(string(key))
	}
	return rec, nil
}

func (s *LocalStore) scanRecords(txn *badger.Txn, prefix []byte, b tenancy.Binding, accept func(*domain.LocalRecord) bool) ([]*domain.LocalRecord, error) {
	var (
		records []*domain.LocalRecord
		ferr    error
	)
	err := scanPrefix(txn, prefix, func(key, value []byte) bool {
		rec, err := s.decodeRecord(key, value, b)
		if err != nil {
			ferr = err
			return false
		}
		if accept(rec) {
			records = append(records, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if ferr != nil {
		return nil, ferr
	}
	return records, nil
}

func (s *LocalStore) writeRecord(txn *badger.Txn, key []byte, rec *domain.LocalRecord) error {
	data, err := s.encode(key, rec)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func (s *LocalStore) encode(key []byte, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	if s.cipher == nil {
		return data, nil
	}
	return s.cipher.Seal(data, key)
}

func (s *LocalStore) decode(key, data []byte, v any) error {
	if s.cipher != nil {
		plain, err := s.cipher.Open(data, key)
		if err != nil {
			return domain.ErrPartitionCorrupt.WithDetails(string(key)).WithCause(err)
		}
		data = plain
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// upgradePayload migrates a record read from disk to the current schema
// version. The stored row is left untouched until the next write.
func upgradePayload(rec *domain.LocalRecord) error {
	if rec.DeletedTombstone || rec.SchemaVersion >= domain.CurrentSchemaVersion(rec.EntityType) {
		return nil
	}
	payload, version, err := domain.NormalizePayload(rec.EntityType, rec.SchemaVersion, rec.Payload)
	if err != nil {
		return err
	}
	rec.Payload = payload
	rec.SchemaVersion = version
	return nil
}

// storageErr passes domain errors through and wraps everything else.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.ErrStorageError.WithCause(err)
}
