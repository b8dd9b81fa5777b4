// Package models defines the domain entities for the hoard media cache.
//
// The package contains two categories of types:
//
// 1. Persistent Entities: rows owned by the database collaborator
//   - [Track] : cache-relevant projection of a library track (path, size, sync status, pin, recency)
//   - [StorageSource] : a registered storage root, either local or one cloud account mount
//
// 2. Value Types: results passed between the cache components and their callers
//   - [CacheStats] : database counts merged with the current byte budget
//   - [EvictionResult] : verified outcome of an eviction sweep
//   - [DownloadEvent] : completion notification raised by the download coordinator
//
// Persistent entities implement [Model]; [Repository] defines the CRUD surface every repository provides.
//
// # Sync Status
//
// Only tracks owned by a cloud source carry a meaningful [SyncStatus]:
//
//	cloud-only --(download materializes)--> cached --(eviction verified)--> cloud-only
//
// [SyncLocal] tracks are excluded from all cache accounting. Pinning is orthogonal to the
// status and removes a cached track from eviction candidacy.
package models
