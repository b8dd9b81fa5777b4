package models

import "time"

// CacheStats merges database-reported counts with the current byte budget.
type CacheStats struct {
	TotalTracks     int   `json:"totalTracks"`
	CachedTracks    int   `json:"cachedTracks"`
	CloudOnlyTracks int   `json:"cloudOnlyTracks"`
	PinnedTracks    int   `json:"pinnedTracks"`
	CachedBytes     int64 `json:"cachedBytes"`
	PinnedBytes     int64 `json:"pinnedBytes"`
	MaxBytes        int64 `json:"maxBytes"`
}

// EvictionResult reports only evictions that were verified on disk.
type EvictionResult struct {
	Evicted    int   `json:"evicted"`
	FreedBytes int64 `json:"freedBytes"`
}

// DownloadEvent is raised when a triggered download settles.
type DownloadEvent struct {
	Path         string    `json:"path"`
	TrackID      string    `json:"track_id,omitempty"`
	Materialized bool      `json:"materialized"`
	At           time.Time `json:"at"`
}
