package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/shared"
)

const sourceColumns = `id, sequence, type, root_path, label, account, added_at`

// SourceRepository implements models.Repository[*models.StorageSource].
//
// root_path is unique; a second registration of the same root fails with [shared.ErrDuplicateSource].
type SourceRepository struct {
	db *sql.DB
}

// NewSourceRepository creates a new SourceRepository with the given database connection
func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Create inserts a new [models.StorageSource] with generated ID and sequence.
func (r *SourceRepository) Create(source *models.StorageSource) error {
	if err := source.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidationFailed, err)
	}

	sequence, err := NextSequence(r.db, "sources")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	source.ID = shared.GenerateID()
	source.Sequence = sequence
	source.RootPath = filepath.Clean(source.RootPath)

	query := `INSERT INTO sources (` + sourceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query,
		source.ID,
		source.Sequence,
		string(source.Type),
		source.RootPath,
		source.Label,
		nullString(source.Account),
		source.AddedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateSource, source.RootPath)
	}
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}

	return nil
}

// Get retrieves a source by ID
func (r *SourceRepository) Get(id string) (*models.StorageSource, error) {
	return r.scanOne(r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id), id)
}

// GetByRootPath retrieves a source by its root path
func (r *SourceRepository) GetByRootPath(root string) (*models.StorageSource, error) {
	root = filepath.Clean(root)
	return r.scanOne(r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE root_path = ?`, root), root)
}

// Delete removes a source by ID. Tracks keep their rows; their source_id becomes NULL.
func (r *SourceRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return expectOneRow(result, shared.ErrSourceNotFound, id)
}

// List retrieves all sources matching the given criteria.
//
// Supported keys: "type" (string or [models.SourceType]).
func (r *SourceRepository) List(criteria map[string]any) ([]*models.StorageSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	args := []any{}

	switch sourceType := criteria["type"].(type) {
	case string:
		if sourceType != "" {
			query += " WHERE type = ?"
			args = append(args, sourceType)
		}
	case models.SourceType:
		query += " WHERE type = ?"
		args = append(args, string(sourceType))
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.StorageSource
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sources, nil
}

func (r *SourceRepository) scanOne(row *sql.Row, key string) (*models.StorageSource, error) {
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSourceNotFound, key)
	}
	return source, err
}

func scanSource(row rowScanner) (*models.StorageSource, error) {
	var (
		source     models.StorageSource
		sourceType string
		account    sql.NullString
	)

	err := row.Scan(&source.ID, &source.Sequence, &sourceType, &source.RootPath, &source.Label, &account, &source.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	source.Type = models.SourceType(sourceType)
	if account.Valid {
		name := account.String
		source.Account = &name
	}

	return &source, nil
}
