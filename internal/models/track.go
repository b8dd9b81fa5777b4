package models

import (
	"fmt"
	"path/filepath"
	"time"
)

// SyncStatus is the materialization state of a track's file.
type SyncStatus string

const (
	SyncLocal       SyncStatus = "local"       // plain local file, outside cache accounting
	SyncDownloading SyncStatus = "downloading" // provider fetch triggered, not yet materialized
	SyncCached      SyncStatus = "cached"      // cloud-backed and materialized on disk
	SyncCloudOnly   SyncStatus = "cloud-only"  // placeholder without local data
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncLocal, SyncDownloading, SyncCached, SyncCloudOnly:
		return true
	}
	return false
}

// Track is the cache-relevant projection of a library track.
type Track struct {
	ID           string     `json:"id"`
	Sequence     int        `json:"-"`
	FilePath     string     `json:"file_path"`
	FileSize     int64      `json:"file_size"`
	SyncStatus   SyncStatus `json:"sync_status"`
	Pinned       bool       `json:"pinned"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	SourceID     *string    `json:"source_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewTrack creates a local track for path; callers reclassify cloud-backed files.
func NewTrack(path string, size int64) *Track {
	now := time.Now().UTC()
	return &Track{
		FilePath:   path,
		FileSize:   size,
		SyncStatus: SyncLocal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsCloudBacked reports whether the track participates in cache accounting.
func (t *Track) IsCloudBacked() bool {
	return t.SyncStatus != SyncLocal
}

// Validate checks that the track has an absolute path, a non-negative size and a known status.
func (t *Track) Validate() error {
	if t.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if !filepath.IsAbs(t.FilePath) {
		return fmt.Errorf("file path must be absolute: %s", t.FilePath)
	}
	if t.FileSize < 0 {
		return fmt.Errorf("file size must not be negative: %d", t.FileSize)
	}
	if !t.SyncStatus.Valid() {
		return fmt.Errorf("unknown sync status: %q", t.SyncStatus)
	}
	return nil
}
