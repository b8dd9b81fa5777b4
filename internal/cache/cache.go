// Package cache keeps materialized cloud files within a byte budget by evicting the least
// recently used unpinned tracks, and records reads for LRU ordering.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hoard/internal/metrics"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/probe"
	"github.com/desertthunder/hoard/internal/shared"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultBatchSize = 50

	// BudgetSetting is the settings key holding an operator-set budget.
	BudgetSetting = "cache.max_size_bytes"
)

// TrackStore is the track persistence the manager reads and updates; satisfied by
// repositories.TrackRepository.
type TrackStore interface {
	Get(id string) (*models.Track, error)
	Touch(id string, at time.Time) error
	SetSyncStatus(id string, status models.SyncStatus) error
	SetPinned(id string, pinned bool) error
	CachedBytes() (int64, error)
	EvictionCandidates() ([]*models.Track, error)
	CloudBackedPaths() (map[string]string, error)
	Stats() (models.CacheStats, error)
}

// BudgetStore persists the budget across restarts; satisfied by repositories.SettingsRepository.
type BudgetStore interface {
	GetInt64(key string) (int64, bool, error)
	SetInt64(key string, value int64) error
}

// Prefetcher fetches pinned tracks that are not yet local.
type Prefetcher interface {
	Prefetch(ctx context.Context, paths []string) int
}

// Options configures a [Manager]. Zero values select the defaults.
type Options struct {
	MaxSizeBytes int64
	Interval     time.Duration
	BatchSize    int
}

// OptionsFromConfig builds Options from the [cache] config section.
func OptionsFromConfig(config *shared.Config) Options {
	return Options{
		MaxSizeBytes: config.Cache.MaxSizeBytes,
		Interval:     config.Cache.EvictInterval.Duration,
		BatchSize:    config.Cache.BatchSize,
	}
}

// Manager owns the cache budget, the path index and the eviction sweep.
type Manager struct {
	tracks  TrackStore
	probe   probe.Probe
	backend EvictionBackend
	metrics *metrics.Metrics
	logger  *log.Logger

	budget     BudgetStore
	prefetcher Prefetcher

	maxSize   atomic.Int64
	interval  time.Duration
	batchSize int

	indexMu sync.Mutex
	index   map[string]string

	evicting atomic.Bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// NewManager creates a Manager. m may be nil.
func NewManager(tracks TrackStore, p probe.Probe, backend EvictionBackend, opts Options, m *metrics.Metrics, logger *log.Logger) *Manager {
	mgr := &Manager{
		tracks:    tracks,
		probe:     p,
		backend:   backend,
		metrics:   m,
		logger:    shared.WithLogger(logger, "component", "cache"),
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       time.Now,
	}

	if mgr.interval <= 0 {
		mgr.interval = DefaultInterval
	}
	if mgr.batchSize <= 0 {
		mgr.batchSize = DefaultBatchSize
	}

	mgr.maxSize.Store(opts.MaxSizeBytes)
	mgr.metrics.SetBudget(opts.MaxSizeBytes)
	return mgr
}

// WithBudgetStore loads a persisted budget, if any, and persists future changes to store.
func (m *Manager) WithBudgetStore(store BudgetStore) *Manager {
	m.budget = store

	saved, ok, err := store.GetInt64(BudgetSetting)
	switch {
	case err != nil:
		m.logger.Warn("failed to load saved budget", "error", err)
	case ok:
		m.maxSize.Store(saved)
		m.metrics.SetBudget(saved)
	}
	return m
}

// WithPrefetcher hands newly pinned, non-materialized tracks to p.
func (m *Manager) WithPrefetcher(p Prefetcher) *Manager {
	m.prefetcher = p
	return m
}

// Touch records a read of the track. Failures are logged, never returned.
func (m *Manager) Touch(id string) {
	if err := m.tracks.Touch(id, m.now()); err != nil {
		m.logger.Debug("failed to touch track", "id", id, "error", err)
	}
}

// TouchByPath records a read of the cloud-backed track at path. Unknown paths are ignored.
func (m *Manager) TouchByPath(path string) {
	id, ok := m.lookup(path)
	if !ok {
		return
	}
	m.Touch(id)
}

func (m *Manager) lookup(path string) (string, bool) {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()

	if m.index == nil {
		index, err := m.tracks.CloudBackedPaths()
		if err != nil {
			m.logger.Debug("failed to build path index", "error", err)
			return "", false
		}
		m.index = index
	}

	id, ok := m.index[path]
	return id, ok
}

// InvalidatePathIndex drops the path index; the next lookup rebuilds it.
func (m *Manager) InvalidatePathIndex() {
	m.indexMu.Lock()
	m.index = nil
	m.indexMu.Unlock()
}

// SetMaxSize updates the budget. It does not trigger a sweep.
func (m *Manager) SetMaxSize(bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("%w: budget must not be negative: %d", shared.ErrInvalidArgument, bytes)
	}

	m.maxSize.Store(bytes)
	m.metrics.SetBudget(bytes)

	if m.budget != nil {
		if err := m.budget.SetInt64(BudgetSetting, bytes); err != nil {
			return err
		}
	}

	m.logger.Info("cache budget updated", "bytes", bytes)
	return nil
}

// MaxSize returns the current budget in bytes.
func (m *Manager) MaxSize() int64 {
	return m.maxSize.Load()
}

// Evict frees cached tracks, least recently used first, until cached bytes fit the budget.
//
// Only files confirmed non-materialized after the backend ran are counted and flipped to
// cloud-only. Failures reduce the result; they are never returned. A call made while another
// sweep is running returns a zero result immediately.
func (m *Manager) Evict(ctx context.Context) models.EvictionResult {
	if !m.evicting.CompareAndSwap(false, true) {
		m.logger.Info("eviction already in progress, skipping")
		return models.EvictionResult{}
	}
	defer m.evicting.Store(false)

	var result models.EvictionResult

	cached, err := m.tracks.CachedBytes()
	if err != nil {
		m.logger.Error("failed to compute cached bytes", "error", err)
		return result
	}
	m.metrics.SetCacheBytes(cached)

	budget := m.maxSize.Load()
	if cached <= budget {
		return result
	}

	candidates, err := m.tracks.EvictionCandidates()
	if err != nil {
		m.logger.Error("failed to load eviction candidates", "error", err)
		return result
	}

	var queued []*models.Track
	remaining := cached
	for _, track := range candidates {
		if remaining <= budget {
			break
		}

		if m.probe.IsMaterialized(track.FilePath) {
			queued = append(queued, track)
			remaining -= track.FileSize
			continue
		}

		if err := m.tracks.SetSyncStatus(track.ID, models.SyncCloudOnly); err != nil {
			m.logger.Warn("failed to correct evicted track", "path", track.FilePath, "error", err)
			continue
		}
		remaining -= track.FileSize
		result.Evicted++
		result.FreedBytes += track.FileSize
		m.metrics.RecordEviction(metrics.OutcomeAlreadyGone, track.FileSize)
	}

	for start := 0; start < len(queued); start += m.batchSize {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("eviction interrupted", "error", err)
			break
		}
		batch := queued[start:min(start+m.batchSize, len(queued))]
		evicted, freed := m.evictBatch(ctx, batch)
		result.Evicted += evicted
		result.FreedBytes += freed
	}

	if result.Evicted > 0 {
		m.InvalidatePathIndex()
		m.metrics.SetCacheBytes(cached - result.FreedBytes)
		m.logger.Info("eviction complete",
			"evicted", result.Evicted, "freed", result.FreedBytes, "cached", cached-result.FreedBytes, "budget", budget)
	}

	return result
}

// evictBatch dispatches one batch and counts only files the probe confirms are gone.
func (m *Manager) evictBatch(ctx context.Context, batch []*models.Track) (int, int64) {
	paths := make([]string, len(batch))
	for i, track := range batch {
		paths[i] = track.FilePath
	}

	claimed := m.backend.EvictBatch(ctx, paths)

	var evicted int
	var freed int64
	for _, track := range batch {
		if m.probe.IsMaterialized(track.FilePath) {
			if claimed[track.FilePath] {
				m.logger.Warn("helper reported eviction but file is still local", "path", track.FilePath)
			}
			m.metrics.RecordEviction(metrics.OutcomeRejected, track.FileSize)
			continue
		}

		if err := m.tracks.SetSyncStatus(track.ID, models.SyncCloudOnly); err != nil {
			m.logger.Warn("failed to mark track cloud-only", "path", track.FilePath, "error", err)
			continue
		}
		evicted++
		freed += track.FileSize
		m.metrics.RecordEviction(metrics.OutcomeVerified, track.FileSize)
	}

	m.logger.Debug("eviction batch done", "paths", len(batch), "claimed", len(claimed), "verified", evicted)
	return evicted, freed
}

// Stats merges the database counts with the current budget.
func (m *Manager) Stats(ctx context.Context) (models.CacheStats, error) {
	stats, err := m.tracks.Stats()
	if err != nil {
		return models.CacheStats{}, err
	}
	stats.MaxBytes = m.maxSize.Load()
	return stats, nil
}

// Pin exempts a track from eviction. A cloud-backed track that is not local yet is handed to
// the prefetcher in the background.
func (m *Manager) Pin(id string) error {
	if err := m.tracks.SetPinned(id, true); err != nil {
		return err
	}

	track, err := m.tracks.Get(id)
	if err != nil {
		return err
	}

	if !track.IsCloudBacked() {
		return nil
	}
	if m.probe.IsMaterialized(track.FilePath) {
		m.MarkMaterialized(track)
		return nil
	}
	if m.prefetcher != nil {
		go m.prefetcher.Prefetch(context.Background(), []string{track.FilePath})
	}
	return nil
}

// MarkMaterialized moves a cloud-backed track whose file is on disk back to cached, so a
// download that settled after its wait timed out rejoins the byte accounting.
func (m *Manager) MarkMaterialized(track *models.Track) {
	if !track.IsCloudBacked() || track.SyncStatus == models.SyncCached {
		return
	}

	if err := m.tracks.SetSyncStatus(track.ID, models.SyncCached); err != nil {
		m.logger.Warn("failed to mark track cached", "path", track.FilePath, "error", err)
		return
	}
	m.logger.Debug("track materialized", "path", track.FilePath, "was", track.SyncStatus)
	track.SyncStatus = models.SyncCached
}

// Unpin makes a track eligible for eviction again.
func (m *Manager) Unpin(id string) error {
	return m.tracks.SetPinned(id, false)
}

// Start runs Evict every interval until ctx is cancelled or Stop is called.
// Calling Start on a running manager does nothing. Once the timer has exited, Start runs it again.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
	m.logger.Info("eviction timer started", "interval", m.interval)
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.release(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict(ctx)
		}
	}
}

// release clears the running state when the timer exits on its own, unless Stop got there first.
func (m *Manager) release(done chan struct{}) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done != done {
		return
	}
	m.cancel()
	m.cancel, m.done = nil, nil
}

// Stop cancels the eviction timer and waits for a running sweep to return. Safe to call more
// than once.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("eviction timer stopped")
}
