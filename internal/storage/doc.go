// Package storage provides the device-resident store of FarmSync.
//
// Architecture:
//
//   - BadgerEngine: durable embedded KV (badger/v3) with background value
//     log GC and Prometheus size gauges
//   - LocalStore: tenant/farmer partitioned records, sync metadata, cached
//     credentials and the persisted session
//   - Reconciler: the sync engine's view of the store; the only path that
//     clears the dirty flag or removes tombstones
//
// Writes for one (tenant, farmer) partition are serialized through a
// single-writer goroutine and commit in one badger transaction. Reads use
// badger snapshots and never block on writers.
//
// Values are JSON. When a cipher is configured they are sealed with AEAD
// using the key as associated data, so a value copied under another
// partition's key fails to open.
package storage
