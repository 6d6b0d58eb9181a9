// Package domain defines the core domain models for FarmSync.
//
// Domain models are pure value objects without any IO dependencies.
// This package contains:
//
//   - TenantContext: the active tenant/farmer binding
//   - CachedCredential: hashed login credential kept for offline login
//   - LocalRecord: a tenant/owner scoped entity with sync bookkeeping
//   - Entity schemas: typed payloads with versioned migrations
//   - SyncMetadata and Session
//   - Errors: coded domain errors grouped by category
package domain
