package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/shared"
)

const trackColumns = `id, sequence, file_path, file_size, sync_status, pinned, last_accessed, source_id, created_at, updated_at`

// TrackRepository implements models.Repository[*models.Track] for the cache-relevant track projection.
//
// Tracks with sync_status 'local' are excluded from every cache query (byte totals, candidates, path index).
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Create inserts a new [models.Track] with generated ID and sequence.
func (r *TrackRepository) Create(track *models.Track) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidationFailed, err)
	}

	sequence, err := NextSequence(r.db, "tracks")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	track.ID = shared.GenerateID()
	track.Sequence = sequence

	query := `
		INSERT INTO tracks (` + trackColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		track.ID,
		track.Sequence,
		track.FilePath,
		track.FileSize,
		string(track.SyncStatus),
		track.Pinned,
		nullTime(track.LastAccessed),
		nullString(track.SourceID),
		track.CreatedAt,
		track.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateTrack, track.FilePath)
	}
	if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}

	return nil
}

// Get retrieves a track by ID
func (r *TrackRepository) Get(id string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id), id)
}

// GetByPath retrieves a track by its file path
func (r *TrackRepository) GetByPath(path string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE file_path = ?`
	return r.scanOne(r.db.QueryRow(query, path), path)
}

// Delete removes a track by ID
func (r *TrackRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}
	return expectOneRow(result, shared.ErrTrackNotFound, id)
}

// List retrieves all tracks matching the given criteria.
//
// Supported keys: "sync_status" (string or [models.SyncStatus]), "source_id" (string), "pinned" (bool).
func (r *TrackRepository) List(criteria map[string]any) ([]*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE 1 = 1`
	args := []any{}

	switch status := criteria["sync_status"].(type) {
	case string:
		if status != "" {
			query += " AND sync_status = ?"
			args = append(args, status)
		}
	case models.SyncStatus:
		query += " AND sync_status = ?"
		args = append(args, string(status))
	}

	if sourceID, ok := criteria["source_id"].(string); ok && sourceID != "" {
		query += " AND source_id = ?"
		args = append(args, sourceID)
	}

	if pinned, ok := criteria["pinned"].(bool); ok {
		query += " AND pinned = ?"
		args = append(args, pinned)
	}

	query += " ORDER BY sequence ASC"

	return r.queryTracks(query, args...)
}

// SetSyncStatus updates a track's status by ID.
func (r *TrackRepository) SetSyncStatus(id string, status models.SyncStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: sync status %q", shared.ErrInvalidArgument, status)
	}

	result, err := r.db.Exec(
		`UPDATE tracks SET sync_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return expectOneRow(result, shared.ErrTrackNotFound, id)
}

// SetSyncStatusByPath updates the status of the track at path, returning the number of rows changed.
//
// Local tracks are never reclassified through this call.
func (r *TrackRepository) SetSyncStatusByPath(path string, status models.SyncStatus) (int64, error) {
	result, err := r.db.Exec(
		`UPDATE tracks SET sync_status = ?, updated_at = ? WHERE file_path = ? AND sync_status != 'local'`,
		string(status), time.Now().UTC(), path,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update sync status: %w", err)
	}
	return result.RowsAffected()
}

// MarkDownloading moves a cloud-only track at path to downloading and reports whether a row changed.
func (r *TrackRepository) MarkDownloading(path string) (bool, error) {
	result, err := r.db.Exec(
		`UPDATE tracks SET sync_status = 'downloading', updated_at = ? WHERE file_path = ? AND sync_status = 'cloud-only'`,
		time.Now().UTC(), path,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark downloading: %w", err)
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// SetPinned sets or clears the pin flag.
func (r *TrackRepository) SetPinned(id string, pinned bool) error {
	result, err := r.db.Exec(
		`UPDATE tracks SET pinned = ?, updated_at = ? WHERE id = ?`,
		pinned, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update pin: %w", err)
	}
	return expectOneRow(result, shared.ErrTrackNotFound, id)
}

// Touch records at as the track's last access time.
func (r *TrackRepository) Touch(id string, at time.Time) error {
	result, err := r.db.Exec(`UPDATE tracks SET last_accessed = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch track: %w", err)
	}
	return expectOneRow(result, shared.ErrTrackNotFound, id)
}

// CachedBytes returns the sum of file_size over cached tracks.
func (r *TrackRepository) CachedBytes() (int64, error) {
	var total int64
	err := r.db.QueryRow(`SELECT COALESCE(SUM(file_size), 0) FROM tracks WHERE sync_status = 'cached'`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cached bytes: %w", err)
	}
	return total, nil
}

// EvictionCandidates returns cached, unpinned tracks, least recently accessed first.
//
// Never-accessed tracks sort before any accessed one.
func (r *TrackRepository) EvictionCandidates() ([]*models.Track, error) {
	query := `
		SELECT ` + trackColumns + `
		FROM tracks
		WHERE sync_status = 'cached' AND pinned = 0
		ORDER BY last_accessed IS NOT NULL, last_accessed ASC, sequence ASC
	`
	return r.queryTracks(query)
}

// CloudBackedPaths returns file_path → id for every track that is not local.
func (r *TrackRepository) CloudBackedPaths() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT file_path, id FROM tracks WHERE sync_status != 'local'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cloud-backed paths: %w", err)
	}
	defer rows.Close()

	index := make(map[string]string)
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		index[path] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return index, nil
}

// Stats returns the database half of [models.CacheStats]; MaxBytes is left zero.
func (r *TrackRepository) Stats() (models.CacheStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN sync_status = 'cached' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN sync_status = 'cloud-only' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pinned = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN sync_status = 'cached' THEN file_size ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pinned = 1 AND sync_status = 'cached' THEN file_size ELSE 0 END), 0)
		FROM tracks
		WHERE sync_status != 'local'
	`

	var stats models.CacheStats
	err := r.db.QueryRow(query).Scan(
		&stats.TotalTracks,
		&stats.CachedTracks,
		&stats.CloudOnlyTracks,
		&stats.PinnedTracks,
		&stats.CachedBytes,
		&stats.PinnedBytes,
	)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("failed to query cache stats: %w", err)
	}
	return stats, nil
}

// AdoptUnderRoot assigns sourceID to tracks under root and flips local ones to cached.
//
// Used once when a new cloud root is registered: files already in the library under that root
// were materialized when scanned. Returns the number of tracks changed.
func (r *TrackRepository) AdoptUnderRoot(sourceID, root string) (int64, error) {
	prefix := filepath.Clean(root) + string(filepath.Separator)
	query := `
		UPDATE tracks
		SET source_id = ?,
			sync_status = CASE WHEN sync_status = 'local' THEN 'cached' ELSE sync_status END,
			updated_at = ?
		WHERE substr(file_path, 1, length(?)) = ?
	`

	result, err := r.db.Exec(query, sourceID, time.Now().UTC(), prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to adopt tracks under %s: %w", root, err)
	}
	return result.RowsAffected()
}

func (r *TrackRepository) queryTracks(query string, args ...any) ([]*models.Track, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*models.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tracks, nil
}

// scanOne scans a single [sql.Row] into a [models.Track]
func (r *TrackRepository) scanOne(row *sql.Row, key string) (*models.Track, error) {
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, key)
	}
	return track, err
}

func scanTrack(row rowScanner) (*models.Track, error) {
	var (
		track        models.Track
		status       string
		lastAccessed sql.NullTime
		sourceID     sql.NullString
	)

	err := row.Scan(
		&track.ID,
		&track.Sequence,
		&track.FilePath,
		&track.FileSize,
		&status,
		&track.Pinned,
		&lastAccessed,
		&sourceID,
		&track.CreatedAt,
		&track.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	track.SyncStatus = models.SyncStatus(status)
	if lastAccessed.Valid {
		at := lastAccessed.Time
		track.LastAccessed = &at
	}
	if sourceID.Valid {
		id := sourceID.String
		track.SourceID = &id
	}

	return &track, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
