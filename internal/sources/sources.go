// Package sources maps file paths to registered storage roots and discovers new cloud account
// mounts.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/probe"
	"github.com/desertthunder/hoard/internal/shared"
)

// ProviderName labels auto-registered cloud sources, e.g. "Google Drive (me@example.com)".
const ProviderName = "Google Drive"

// SourceStore is the persistence the registry needs; satisfied by repositories.SourceRepository.
type SourceStore interface {
	Create(source *models.StorageSource) error
	Get(id string) (*models.StorageSource, error)
	Delete(id string) error
	List(criteria map[string]any) ([]*models.StorageSource, error)
}

// TrackAdopter reassigns existing tracks to a newly registered root.
type TrackAdopter interface {
	AdoptUnderRoot(sourceID, root string) (int64, error)
}

// Registry owns the set of storage sources.
type Registry struct {
	probe   probe.Probe
	sources SourceStore
	tracks  TrackAdopter
	logger  *log.Logger
}

// NewRegistry creates a Registry. tracks may be nil when no migration of existing tracks is wanted.
func NewRegistry(p probe.Probe, sources SourceStore, tracks TrackAdopter, logger *log.Logger) *Registry {
	return &Registry{
		probe:   p,
		sources: sources,
		tracks:  tracks,
		logger:  shared.WithLogger(logger, "component", "sources"),
	}
}

// Classify reports whether path is cloud-backed or a plain local file.
func (r *Registry) Classify(path string) models.SourceType {
	if r.probe.IsCloudBackedPath(path) {
		return models.SourceCloud
	}
	return models.SourceLocal
}

// Detect lists account mounts currently present under the cloud root.
func (r *Registry) Detect() []probe.DetectedSource {
	return r.probe.DetectCloudSources()
}

// AutoRegisterSources registers every detected cloud root that is not yet a source and returns
// the sources it created.
func (r *Registry) AutoRegisterSources(ctx context.Context) ([]*models.StorageSource, error) {
	existing, err := r.sources.List(map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	known := make(map[string]bool, len(existing))
	for _, source := range existing {
		known[source.RootPath] = true
	}

	var created []*models.StorageSource
	for _, detected := range r.probe.DetectCloudSources() {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		root := filepath.Clean(detected.Path)
		if known[root] {
			continue
		}

		source := models.NewStorageSource(models.SourceCloud, root, labelFor(detected.Account), detected.Account)
		if err := r.sources.Create(source); err != nil {
			if errors.Is(err, shared.ErrDuplicateSource) {
				continue
			}
			return created, fmt.Errorf("failed to register %s: %w", root, err)
		}

		known[root] = true
		created = append(created, source)
		r.logger.Info("registered cloud source", "root", root, "account", detected.Account)
	}

	return created, nil
}

// MigrateTracks adopts tracks already in the library under source's root, moving local ones to
// cached. Run once per newly registered cloud source.
func (r *Registry) MigrateTracks(source *models.StorageSource) (int64, error) {
	if r.tracks == nil || source.Type != models.SourceCloud {
		return 0, nil
	}

	n, err := r.tracks.AdoptUnderRoot(source.ID, source.RootPath)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("adopted existing tracks", "root", source.RootPath, "tracks", n)
	}
	return n, nil
}

// Sync auto-registers new cloud roots and migrates their existing tracks.
func (r *Registry) Sync(ctx context.Context) ([]*models.StorageSource, error) {
	created, err := r.AutoRegisterSources(ctx)
	for _, source := range created {
		if _, migrateErr := r.MigrateTracks(source); migrateErr != nil {
			r.logger.Warn("failed to migrate tracks", "root", source.RootPath, "error", migrateErr)
		}
	}
	return created, err
}

// FindOwningSource returns the registered source with the longest root that contains path, or
// nil when no source owns it.
func (r *Registry) FindOwningSource(path string) (*models.StorageSource, error) {
	all, err := r.sources.List(map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return LongestMatch(all, path), nil
}

// LongestMatch picks the source whose root is the most specific ancestor of path.
// Roots match on whole path components only: /music does not own /musicals/a.mp3.
func LongestMatch(candidates []*models.StorageSource, path string) *models.StorageSource {
	path = filepath.Clean(path)

	var best *models.StorageSource
	for _, source := range candidates {
		if !contains(source.RootPath, path) {
			continue
		}
		if best == nil || len(source.RootPath) > len(best.RootPath) {
			best = source
		}
	}
	return best
}

func contains(root, path string) bool {
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}

// List returns every registered source.
func (r *Registry) List() ([]*models.StorageSource, error) {
	return r.sources.List(map[string]any{})
}

// Add registers a source explicitly. The root must be an existing directory.
func (r *Registry) Add(sourceType models.SourceType, root, label, account string) (*models.StorageSource, error) {
	root = shared.ExpandHome(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", shared.ErrInvalidArgument, root)
	}

	if label == "" {
		label = filepath.Base(root)
		if sourceType == models.SourceCloud && account != "" {
			label = labelFor(account)
		}
	}

	source := models.NewStorageSource(sourceType, root, label, account)
	if err := r.sources.Create(source); err != nil {
		return nil, err
	}

	if _, err := r.MigrateTracks(source); err != nil {
		r.logger.Warn("failed to migrate tracks", "root", source.RootPath, "error", err)
	}

	r.logger.Info("added source", "root", source.RootPath, "type", source.Type)
	return source, nil
}

// Remove deletes a source. Its tracks stay in the library without an owner.
func (r *Registry) Remove(id string) error {
	if err := r.sources.Delete(id); err != nil {
		return err
	}
	r.logger.Info("removed source", "id", id)
	return nil
}

func labelFor(account string) string {
	return fmt.Sprintf("%s (%s)", ProviderName, account)
}
