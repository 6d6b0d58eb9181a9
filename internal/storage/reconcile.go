package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/farmsync-go/internal/core/domain"
)

// MergeOutcome describes what ApplyRemote did with a remote record.
type MergeOutcome string

const (
	// MergeInserted means the remote record was new locally.
	MergeInserted MergeOutcome = "inserted"
	// MergeUpdated means the remote version replaced the local row.
	MergeUpdated MergeOutcome = "updated"
	// MergeDeleted means a winning remote delete removed the local row.
	MergeDeleted MergeOutcome = "deleted"
	// MergeKeptLocal means the local row won.
	MergeKeptLocal MergeOutcome = "kept_local"
	// MergeUnchanged means the remote record carried nothing new.
	MergeUnchanged MergeOutcome = "unchanged"
)

// Reconciler exposes the sync bookkeeping operations of the store. Only the
// sync engine uses it; it is the only path that clears the dirty flag.
type Reconciler struct {
	s *LocalStore
}

// Reconciler returns the reconciliation view of the store.
func (s *LocalStore) Reconciler() *Reconciler {
	return &Reconciler{s: s}
}

// DirtyRecords returns the bound farmer's unconfirmed records of one entity
// type, tombstones included, in increasing localVersion order.
func (r *Reconciler) DirtyRecords(ctx context.Context, entityType domain.EntityType) ([]*domain.LocalRecord, error) {
	b, err := r.s.partition("")
	if err != nil {
		return nil, err
	}

	var records []*domain.LocalRecord
	err = r.s.kv.View(func(txn *badger.Txn) error {
		var err error
		records, err = r.s.scanRecords(txn, recordPrefix(b.TenantID, b.UserID, entityType), b,
			func(rec *domain.LocalRecord) bool { return rec.Dirty })
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].LocalVersion != records[j].LocalVersion {
			return records[i].LocalVersion < records[j].LocalVersion
		}
		return records[i].EntityID < records[j].EntityID
	})
	return records, nil
}

// CountDirty returns the number of unconfirmed records of the bound farmer
// across all entity types.
func (r *Reconciler) CountDirty(ctx context.Context) (int, error) {
	b, err := r.s.partition("")
	if err != nil {
		return 0, err
	}

	count := 0
	err = r.s.kv.View(func(txn *badger.Txn) error {
		prefix := append(ownerPrefix(b.TenantID, b.UserID), "r/"...)
		records, err := r.s.scanRecords(txn, prefix, b, func(rec *domain.LocalRecord) bool { return rec.Dirty })
		count = len(records)
		return err
	})
	if err != nil {
		return 0, storageErr(err)
	}
	return count, nil
}

// MarkPushed records that pushed was accepted by the remote at
// remoteVersion. The dirty flag is cleared only when the row has not been
// edited since pushed was read; a confirmed tombstone is removed. Returns
// whether the row is now clean.
func (r *Reconciler) MarkPushed(ctx context.Context, pushed *domain.LocalRecord, remoteVersion uint64, remoteUpdatedAt time.Time) (bool, error) {
	b, err := r.s.partition(pushed.OwnerFarmerID)
	if err != nil {
		return false, err
	}

	key := recordKey(b.TenantID, b.UserID, pushed.EntityType, pushed.EntityID)
	clean := false
	err = r.s.writers.submit(ctx, partitionID(b.TenantID, b.UserID), func() error {
		return r.s.kv.Update(func(txn *badger.Txn) error {
			cur, err := r.s.loadRecord(txn, key, b)
			if errors.Is(err, ErrKeyNotFound) {
				clean = true
				return nil
			}
			if err != nil {
				return err
			}

			if cur.LocalVersion != pushed.LocalVersion {
				// Edited while the push was in flight: keep it dirty but
				// remember the version the remote now holds.
				cur.RemoteVersion = remoteVersion
				return r.s.writeRecord(txn, key, cur)
			}

			clean = true
			if cur.DeletedTombstone {
				return txn.Delete(key)
			}
			cur.Dirty = false
			cur.RemoteVersion = remoteVersion
			if !remoteUpdatedAt.IsZero() {
				cur.UpdatedAt = remoteUpdatedAt.UTC()
			}
			return r.s.writeRecord(txn, key, cur)
		})
	})
	if err != nil {
		return false, storageErr(err)
	}
	return clean, nil
}

// PurgeTombstone removes a tombstone that never reached the remote. It is a
// no-op if the row changed since tomb was read. Returns whether it was
// removed.
func (r *Reconciler) PurgeTombstone(ctx context.Context, tomb *domain.LocalRecord) (bool, error) {
	b, err := r.s.partition(tomb.OwnerFarmerID)
	if err != nil {
		return false, err
	}

	key := recordKey(b.TenantID, b.UserID, tomb.EntityType, tomb.EntityID)
	purged := false
	err = r.s.writers.submit(ctx, partitionID(b.TenantID, b.UserID), func() error {
		return r.s.kv.Update(func(txn *badger.Txn) error {
			cur, err := r.s.loadRecord(txn, key, b)
			if errors.Is(err, ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !cur.DeletedTombstone || cur.HasRemote() || cur.LocalVersion != tomb.LocalVersion {
				return nil
			}
			purged = true
			return txn.Delete(key)
		})
	})
	if err != nil {
		return false, storageErr(err)
	}
	return purged, nil
}

// ApplyRemote merges a pulled remote record into the bound partition.
//
// A local dirty tombstone always wins, and so does a dirty row whose
// remoteVersion is not below the remote's. Otherwise the higher
// (remoteVersion, updatedAt) wins; a winning remote delete removes the row.
func (r *Reconciler) ApplyRemote(ctx context.Context, remote *domain.RemoteRecord) (MergeOutcome, error) {
	if remote == nil {
		return "", domain.ErrInvalidArgument.WithDetails("remote record is required")
	}
	b, err := r.s.partition("")
	if err != nil {
		return "", err
	}
	if (remote.TenantID != "" && remote.TenantID != b.TenantID) ||
		(remote.OwnerFarmerID != "" && remote.OwnerFarmerID != b.UserID) {
		return "", domain.ErrCrossPartitionAccess.WithDetails("remote record belongs to another partition")
	}
	if !domain.IsKnownEntityType(remote.EntityType) {
		return "", domain.ErrUnknownEntityType.WithDetails(string(remote.EntityType))
	}
	if err := domain.ValidateEntityID(remote.EntityID); err != nil {
		return "", err
	}

	var (
		payload json.RawMessage
		version int
	)
	if !remote.Deleted {
		payload, version, err = domain.NormalizePayload(remote.EntityType, remote.SchemaVersion, remote.Payload)
		if err != nil {
			return "", err
		}
	}

	key := recordKey(b.TenantID, b.UserID, remote.EntityType, remote.EntityID)
	var outcome MergeOutcome
	err = r.s.writers.submit(ctx, partitionID(b.TenantID, b.UserID), func() error {
		return r.s.kv.Update(func(txn *badger.Txn) error {
			cur, err := r.s.loadRecord(txn, key, b)
			if err != nil && !errors.Is(err, ErrKeyNotFound) {
				return err
			}

			if cur == nil {
				if remote.Deleted {
					outcome = MergeUnchanged
					return nil
				}
				outcome = MergeInserted
				return r.s.writeRecord(txn, key, &domain.LocalRecord{
					EntityType:    remote.EntityType,
					EntityID:      remote.EntityID,
					TenantID:      b.TenantID,
					OwnerFarmerID: b.UserID,
					Payload:       payload,
					SchemaVersion: version,
					LocalVersion:  1,
					RemoteVersion: remote.Version,
					UpdatedAt:     remote.UpdatedAt.UTC(),
				})
			}

			if cur.Dirty && cur.DeletedTombstone {
				outcome = MergeKeptLocal
				return nil
			}
			// A dirty row already knows this remote version: it is our own
			// earlier push, and the local edit on top of it is unconfirmed.
			if cur.Dirty && remote.Version <= cur.RemoteVersion {
				outcome = MergeKeptLocal
				return nil
			}
			if !domain.NewerThan(remote.Version, remote.UpdatedAt, cur.RemoteVersion, cur.UpdatedAt) {
				if cur.Dirty {
					outcome = MergeKeptLocal
				} else {
					outcome = MergeUnchanged
				}
				return nil
			}

			if remote.Deleted {
				outcome = MergeDeleted
				return txn.Delete(key)
			}
			outcome = MergeUpdated
			cur.Payload = payload
			cur.SchemaVersion = version
			cur.LocalVersion++
			cur.RemoteVersion = remote.Version
			cur.Dirty = false
			cur.DeletedTombstone = false
			cur.UpdatedAt = remote.UpdatedAt.UTC()
			return r.s.writeRecord(txn, key, cur)
		})
	})
	if err != nil {
		return "", storageErr(err)
	}
	return outcome, nil
}
