package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/hoard/internal/metrics"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/repositories"
	"github.com/desertthunder/hoard/internal/shared"
	tu "github.com/desertthunder/hoard/internal/testing"
)

// recordingBackend evicts by flipping the fake probe unless told to lie.
type recordingBackend struct {
	probe   *tu.FakeProbe
	lie     bool
	delay   time.Duration
	mu      sync.Mutex
	batches [][]string
}

func (b *recordingBackend) EvictBatch(ctx context.Context, paths []string) map[string]bool {
	b.mu.Lock()
	b.batches = append(b.batches, append([]string(nil), paths...))
	b.mu.Unlock()

	time.Sleep(b.delay)

	claimed := make(map[string]bool, len(paths))
	for _, path := range paths {
		if !b.lie {
			b.probe.SetMaterialized(path, false)
		}
		claimed[path] = true
	}
	return claimed
}

func (b *recordingBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

type fixture struct {
	tracks  *repositories.TrackRepository
	probe   *tu.FakeProbe
	backend *recordingBackend
	manager *Manager
}

func setup(t *testing.T, budget int64) *fixture {
	t.Helper()
	db := tu.NewTestDB(t)
	tracks := repositories.NewTrackRepository(db)
	fake := tu.NewFakeProbe("/cloud/")
	backend := &recordingBackend{probe: fake}
	manager := NewManager(tracks, fake, backend, Options{MaxSizeBytes: budget}, metrics.New(), nil)
	return &fixture{tracks: tracks, probe: fake, backend: backend, manager: manager}
}

// cached creates a materialized, cached track.
func (f *fixture) cached(t *testing.T, path string, size int64, pinned bool, accessed *time.Time) *models.Track {
	t.Helper()
	track := models.NewTrack(path, size)
	track.SyncStatus = models.SyncCached
	track.Pinned = pinned
	track.LastAccessed = accessed
	if err := f.tracks.Create(track); err != nil {
		t.Fatalf("failed to create track: %v", err)
	}
	f.probe.SetMaterialized(path, true)
	return track
}

func (f *fixture) status(t *testing.T, id string) models.SyncStatus {
	t.Helper()
	track, err := f.tracks.Get(id)
	if err != nil {
		t.Fatalf("failed to get track: %v", err)
	}
	return track.SyncStatus
}

func ago(d time.Duration) *time.Time {
	at := time.Now().UTC().Add(-d)
	return &at
}

func TestEvict(t *testing.T) {
	t.Run("evicts a track over budget", func(t *testing.T) {
		f := setup(t, 500_000_000)
		track := f.cached(t, "/cloud/GoogleDrive-a/big.flac", 1_000_000_000, false, nil)

		result := f.manager.Evict(context.Background())

		want := models.EvictionResult{Evicted: 1, FreedBytes: 1_000_000_000}
		if result != want {
			t.Errorf("expected %+v, got %+v", want, result)
		}
		if got := f.status(t, track.ID); got != models.SyncCloudOnly {
			t.Errorf("expected cloud-only, got %s", got)
		}
	})

	t.Run("pinned track is never evicted", func(t *testing.T) {
		f := setup(t, 500_000_000)
		track := f.cached(t, "/cloud/GoogleDrive-a/big.flac", 1_000_000_000, true, ago(365*24*time.Hour))

		result := f.manager.Evict(context.Background())

		if result != (models.EvictionResult{}) {
			t.Errorf("expected zero result, got %+v", result)
		}
		if got := f.status(t, track.ID); got != models.SyncCached {
			t.Errorf("expected cached, got %s", got)
		}
		if f.backend.calls() != 0 {
			t.Error("backend should not be called for pinned tracks")
		}
	})

	t.Run("under budget makes no external calls", func(t *testing.T) {
		f := setup(t, 1000)
		f.cached(t, "/cloud/GoogleDrive-a/a.mp3", 400, false, nil)
		f.cached(t, "/cloud/GoogleDrive-a/b.mp3", 600, false, nil)

		result := f.manager.Evict(context.Background())

		if result != (models.EvictionResult{}) {
			t.Errorf("expected zero result, got %+v", result)
		}
		if f.backend.calls() != 0 {
			t.Errorf("expected no backend calls, got %d", f.backend.calls())
		}
		if f.probe.Checks("/cloud/GoogleDrive-a/a.mp3") != 0 {
			t.Error("expected no probe checks under budget")
		}
	})

	t.Run("least recently used first and stops at budget", func(t *testing.T) {
		f := setup(t, 250)
		oldest := f.cached(t, "/cloud/GoogleDrive-a/old.mp3", 100, false, ago(3*time.Hour))
		middle := f.cached(t, "/cloud/GoogleDrive-a/mid.mp3", 100, false, ago(2*time.Hour))
		recent := f.cached(t, "/cloud/GoogleDrive-a/new.mp3", 100, false, ago(time.Hour))
		never := f.cached(t, "/cloud/GoogleDrive-a/never.mp3", 100, false, nil)

		result := f.manager.Evict(context.Background())

		if result.Evicted != 2 || result.FreedBytes != 200 {
			t.Errorf("expected 2 evictions freeing 200, got %+v", result)
		}

		want := map[string]models.SyncStatus{
			never.ID:  models.SyncCloudOnly,
			oldest.ID: models.SyncCloudOnly,
			middle.ID: models.SyncCached,
			recent.ID: models.SyncCached,
		}
		for id, status := range want {
			if got := f.status(t, id); got != status {
				t.Errorf("track %s: expected %s, got %s", id, status, got)
			}
		}
	})

	t.Run("already gone files are corrected without the backend", func(t *testing.T) {
		f := setup(t, 0)
		track := f.cached(t, "/cloud/GoogleDrive-a/gone.mp3", 300, false, nil)
		f.probe.SetMaterialized(track.FilePath, false)

		result := f.manager.Evict(context.Background())

		if result.Evicted != 1 || result.FreedBytes != 300 {
			t.Errorf("expected 1 eviction freeing 300, got %+v", result)
		}
		if f.backend.calls() != 0 {
			t.Errorf("expected no backend calls, got %d", f.backend.calls())
		}
		if got := f.status(t, track.ID); got != models.SyncCloudOnly {
			t.Errorf("expected cloud-only, got %s", got)
		}
	})

	t.Run("unverified claims are rolled back", func(t *testing.T) {
		f := setup(t, 0)
		f.backend.lie = true
		track := f.cached(t, "/cloud/GoogleDrive-a/stubborn.mp3", 300, false, nil)

		result := f.manager.Evict(context.Background())

		if result != (models.EvictionResult{}) {
			t.Errorf("expected nothing reported freed, got %+v", result)
		}
		if f.backend.calls() != 1 {
			t.Errorf("expected 1 backend call, got %d", f.backend.calls())
		}
		if got := f.status(t, track.ID); got != models.SyncCached {
			t.Errorf("expected cached, got %s", got)
		}
	})

	t.Run("failing backend yields zero", func(t *testing.T) {
		f := setup(t, 0)
		f.manager.backend = FuncBackend(func(context.Context, []string) map[string]bool {
			return map[string]bool{}
		})
		f.cached(t, "/cloud/GoogleDrive-a/a.mp3", 300, false, nil)

		if result := f.manager.Evict(context.Background()); result != (models.EvictionResult{}) {
			t.Errorf("expected zero result, got %+v", result)
		}
	})

	t.Run("dispatches in batches", func(t *testing.T) {
		f := setup(t, 0)
		for i := range 120 {
			f.cached(t, "/cloud/GoogleDrive-a/"+strconv.Itoa(i)+".mp3", 10, false, nil)
		}

		result := f.manager.Evict(context.Background())

		if result.Evicted != 120 || result.FreedBytes != 1200 {
			t.Errorf("expected 120 evictions freeing 1200, got %+v", result)
		}
		sizes := []int{}
		for _, batch := range f.backend.batches {
			sizes = append(sizes, len(batch))
		}
		if len(sizes) != 3 || sizes[0] != 50 || sizes[1] != 50 || sizes[2] != 20 {
			t.Errorf("expected batches of 50, 50, 20, got %v", sizes)
		}
	})

	t.Run("local tracks never count", func(t *testing.T) {
		f := setup(t, 0)
		local := models.NewTrack("/music/a.mp3", 10_000)
		if err := f.tracks.Create(local); err != nil {
			t.Fatal(err)
		}

		if result := f.manager.Evict(context.Background()); result != (models.EvictionResult{}) {
			t.Errorf("expected zero result, got %+v", result)
		}
	})
}

func TestEvictBusyGuard(t *testing.T) {
	f := setup(t, 0)
	f.backend.delay = 300 * time.Millisecond
	f.cached(t, "/cloud/GoogleDrive-a/a.mp3", 100, false, nil)

	var first models.EvictionResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = f.manager.Evict(context.Background())
	}()

	deadline := time.Now().Add(time.Second)
	for !f.manager.evicting.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second := f.manager.Evict(context.Background())
	wg.Wait()

	if second != (models.EvictionResult{}) {
		t.Errorf("overlapping sweep should be a no-op, got %+v", second)
	}
	if first.Evicted != 1 || first.FreedBytes != 100 {
		t.Errorf("expected first sweep to evict once, got %+v", first)
	}
	if f.backend.calls() != 1 {
		t.Errorf("expected a single backend call, got %d", f.backend.calls())
	}
}

func TestTouch(t *testing.T) {
	f := setup(t, 0)
	track := f.cached(t, "/cloud/GoogleDrive-a/a.mp3", 100, false, nil)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.manager.now = func() time.Time { return at }

	t.Run("TouchByPath", func(t *testing.T) {
		f.manager.TouchByPath(track.FilePath)

		got, _ := f.tracks.Get(track.ID)
		if got.LastAccessed == nil || !got.LastAccessed.Equal(at) {
			t.Errorf("expected last accessed %v, got %v", at, got.LastAccessed)
		}
	})

	t.Run("unknown path is ignored", func(t *testing.T) {
		f.manager.TouchByPath("/cloud/GoogleDrive-a/missing.mp3")
		f.manager.Touch("missing-id")
	})

	t.Run("index is rebuilt after invalidation", func(t *testing.T) {
		late := f.cached(t, "/cloud/GoogleDrive-a/late.mp3", 1, false, nil)

		f.manager.TouchByPath(late.FilePath)
		if got, _ := f.tracks.Get(late.ID); got.LastAccessed != nil {
			t.Error("stale index should not know the new track yet")
		}

		f.manager.InvalidatePathIndex()
		f.manager.TouchByPath(late.FilePath)
		if got, _ := f.tracks.Get(late.ID); got.LastAccessed == nil {
			t.Error("expected touch after invalidation")
		}
	})
}

func TestBudget(t *testing.T) {
	db := tu.NewTestDB(t)
	tracks := repositories.NewTrackRepository(db)
	settings := repositories.NewSettingsRepository(db)
	fake := tu.NewFakeProbe("/cloud/")

	manager := NewManager(tracks, fake, &recordingBackend{probe: fake}, Options{MaxSizeBytes: 100}, nil, nil).
		WithBudgetStore(settings)

	if manager.MaxSize() != 100 {
		t.Errorf("expected configured budget, got %d", manager.MaxSize())
	}
	if err := manager.SetMaxSize(-1); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if err := manager.SetMaxSize(2048); err != nil {
		t.Fatalf("failed to set budget: %v", err)
	}

	restarted := NewManager(tracks, fake, nil, Options{MaxSizeBytes: 100}, nil, nil).WithBudgetStore(settings)
	if restarted.MaxSize() != 2048 {
		t.Errorf("expected persisted budget 2048, got %d", restarted.MaxSize())
	}

	stats, err := restarted.Stats(context.Background())
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.MaxBytes != 2048 {
		t.Errorf("expected MaxBytes 2048, got %d", stats.MaxBytes)
	}
}

type countingPrefetcher struct {
	paths chan string
}

func (p *countingPrefetcher) Prefetch(ctx context.Context, paths []string) int {
	for _, path := range paths {
		p.paths <- path
	}
	return len(paths)
}

func TestPin(t *testing.T) {
	f := setup(t, 0)
	prefetcher := &countingPrefetcher{paths: make(chan string, 1)}
	f.manager.WithPrefetcher(prefetcher)

	track := models.NewTrack("/cloud/GoogleDrive-a/remote.mp3", 100)
	track.SyncStatus = models.SyncCloudOnly
	if err := f.tracks.Create(track); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.Pin(track.ID); err != nil {
		t.Fatalf("failed to pin: %v", err)
	}

	select {
	case path := <-prefetcher.paths:
		if path != track.FilePath {
			t.Errorf("unexpected prefetch path %s", path)
		}
	case <-time.After(time.Second):
		t.Error("expected pinned cloud-only track to be prefetched")
	}

	got, _ := f.tracks.Get(track.ID)
	if !got.Pinned {
		t.Error("expected track to be pinned")
	}

	if err := f.manager.Unpin(track.ID); err != nil {
		t.Fatalf("failed to unpin: %v", err)
	}
	if got, _ := f.tracks.Get(track.ID); got.Pinned {
		t.Error("expected track to be unpinned")
	}

	if err := f.manager.Pin("missing"); !errors.Is(err, shared.ErrTrackNotFound) {
		t.Errorf("expected ErrTrackNotFound, got %v", err)
	}
}

func TestPinMaterializedDownload(t *testing.T) {
	f := setup(t, 0)
	prefetcher := &countingPrefetcher{paths: make(chan string, 1)}
	f.manager.WithPrefetcher(prefetcher)

	track := models.NewTrack("/cloud/GoogleDrive-a/late.mp3", 100)
	track.SyncStatus = models.SyncDownloading
	if err := f.tracks.Create(track); err != nil {
		t.Fatal(err)
	}
	f.probe.SetMaterialized(track.FilePath, true)

	if err := f.manager.Pin(track.ID); err != nil {
		t.Fatalf("failed to pin: %v", err)
	}

	got, _ := f.tracks.Get(track.ID)
	if got.SyncStatus != models.SyncCached {
		t.Errorf("expected cached, got %s", got.SyncStatus)
	}
	if len(prefetcher.paths) != 0 {
		t.Error("materialized track must not be prefetched")
	}

	if err := f.manager.Unpin(track.ID); err != nil {
		t.Fatal(err)
	}
	if result := f.manager.Evict(context.Background()); result.Evicted != 1 || result.FreedBytes != 100 {
		t.Errorf("expected the track to be evictable, got %+v", result)
	}
}

// statusFailingStore fails status updates for one track.
type statusFailingStore struct {
	TrackStore
	failID string
}

func (s statusFailingStore) SetSyncStatus(id string, status models.SyncStatus) error {
	if id == s.failID {
		return errors.New("database is locked")
	}
	return s.TrackStore.SetSyncStatus(id, status)
}

func TestEvictSkipsFailedCorrection(t *testing.T) {
	f := setup(t, 100)
	accessed := time.Now().UTC()
	gone := f.cached(t, "/cloud/GoogleDrive-a/gone.mp3", 100, false, nil)
	f.probe.SetMaterialized(gone.FilePath, false)
	local := f.cached(t, "/cloud/GoogleDrive-a/local.mp3", 100, false, &accessed)

	store := statusFailingStore{TrackStore: f.tracks, failID: gone.ID}
	manager := NewManager(store, f.probe, f.backend, Options{MaxSizeBytes: 100}, nil, nil)

	result := manager.Evict(context.Background())

	if result.Evicted != 1 || result.FreedBytes != 100 {
		t.Errorf("expected the next candidate to be evicted, got %+v", result)
	}
	if got, _ := f.tracks.Get(local.ID); got.SyncStatus != models.SyncCloudOnly {
		t.Errorf("expected %s to be cloud-only, got %s", local.FilePath, got.SyncStatus)
	}
	if got, _ := f.tracks.Get(gone.ID); got.SyncStatus != models.SyncCached {
		t.Errorf("failed correction should leave the track cached, got %s", got.SyncStatus)
	}
}

func TestStartAfterContextCancel(t *testing.T) {
	f := setup(t, 0)
	f.cached(t, "/cloud/GoogleDrive-a/a.mp3", 10, false, nil)
	f.backend.lie = true
	f.manager.interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	f.manager.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.manager.runMu.Lock()
		running := f.manager.cancel != nil
		f.manager.runMu.Unlock()
		if !running {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	before := f.backend.calls()
	f.manager.Start(context.Background())
	defer f.manager.Stop()

	for f.backend.calls() == before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.backend.calls() == before {
		t.Error("expected Start to run the timer again after its context was cancelled")
	}
}

func TestStartStop(t *testing.T) {
	db := tu.NewTestDB(t)
	tracks := repositories.NewTrackRepository(db)
	fake := tu.NewFakeProbe("/cloud/")

	var sweeps atomic.Int32
	backend := FuncBackend(func(ctx context.Context, paths []string) map[string]bool {
		sweeps.Add(1)
		return nil
	})
	manager := NewManager(tracks, fake, backend, Options{Interval: 20 * time.Millisecond}, nil, nil)

	track := models.NewTrack("/cloud/GoogleDrive-a/a.mp3", 10)
	track.SyncStatus = models.SyncCached
	if err := tracks.Create(track); err != nil {
		t.Fatal(err)
	}
	fake.SetMaterialized(track.FilePath, true)

	manager.Start(context.Background())
	manager.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for sweeps.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sweeps.Load() == 0 {
		t.Fatal("expected the timer to run a sweep")
	}

	manager.Stop()
	manager.Stop()

	after := sweeps.Load()
	time.Sleep(60 * time.Millisecond)
	if sweeps.Load() != after {
		t.Error("sweeps continued after Stop")
	}
}
