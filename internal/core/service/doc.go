// Package service provides the FarmSync domain services.
//
// Services orchestrate the domain model and the local store. They define
// interfaces for their dependencies so the remote system and the store can
// be replaced in tests.
//
// This package contains:
//
//   - OfflineAuthenticator: mobile + PIN login with offline fallback,
//     credential caching, session lifecycle and lockout
//   - SyncEngine: push of dirty records, paged pull and last-writer-wins
//     merge, coalescing of overlapping runs
//
// Both are safe for concurrent use.
package service
