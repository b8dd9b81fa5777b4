package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/hoard/internal/cache"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/probe"
	"github.com/desertthunder/hoard/internal/repositories"
	"github.com/desertthunder/hoard/internal/shared"
	"github.com/desertthunder/hoard/internal/sources"
	tu "github.com/desertthunder/hoard/internal/testing"
)

// fakeDownloader records triggers and returns canned on-demand results.
type fakeDownloader struct {
	mu        sync.Mutex
	triggered chan string
	result    bool
	err       error
}

func (d *fakeDownloader) TriggerDownload(ctx context.Context, path string) bool {
	d.triggered <- path
	return false
}

func (d *fakeDownloader) DownloadTrack(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result, d.err
}

type fixture struct {
	dir        string
	probe      *tu.FakeProbe
	tracks     *repositories.TrackRepository
	downloader *fakeDownloader
	manager    *cache.Manager
	router     *BasicRouter
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	db := tu.NewTestDB(t)
	tracks := repositories.NewTrackRepository(db)
	sourceRepo := repositories.NewSourceRepository(db)
	fake := tu.NewFakeProbe(filepath.Join(dir, "cloud") + "/")
	fake.Detected = []probe.DetectedSource{{Path: filepath.Join(dir, "cloud", "GoogleDrive-a"), Account: "a"}}

	backend := cache.FuncBackend(func(context.Context, []string) map[string]bool { return nil })
	manager := cache.NewManager(tracks, fake, backend, cache.Options{MaxSizeBytes: 1000}, nil, nil).
		WithBudgetStore(repositories.NewSettingsRepository(db))
	registry := sources.NewRegistry(fake, sourceRepo, tracks, nil)
	downloader := &fakeDownloader{triggered: make(chan string, 4)}

	router := NewBasicRouter()
	router.Use(Recover(nil), Logging(nil))
	router.Handler(NewStreamHandler(fake, tracks, downloader, manager, nil))
	NewAPI(registry, manager, downloader, nil).Register(router)

	return &fixture{dir: dir, probe: fake, tracks: tracks, downloader: downloader, manager: manager, router: router}
}

func (f *fixture) track(t *testing.T, rel string, content string, status models.SyncStatus, materialized bool) *models.Track {
	t.Helper()
	path := filepath.Join(f.dir, rel)
	tu.MustMkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}

	track := models.NewTrack(path, int64(len(content)))
	track.SyncStatus = status
	if err := f.tracks.Create(track); err != nil {
		t.Fatalf("failed to create track: %v", err)
	}
	f.probe.SetMaterialized(path, materialized)
	return track
}

func (f *fixture) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func streamURL(path string) string {
	return "/stream?path=" + strings.ReplaceAll(path, " ", "%20")
}

func TestStreamHandler(t *testing.T) {
	t.Run("pending while not materialized", func(t *testing.T) {
		f := setup(t)
		track := f.track(t, "cloud/GoogleDrive-a/song.mp3", "", models.SyncCloudOnly, false)

		rec := f.do("GET", streamURL(track.FilePath), "")

		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		if body := decode[map[string]string](t, rec); body["status"] != "pending" {
			t.Errorf("expected pending status, got %v", body)
		}

		select {
		case path := <-f.downloader.triggered:
			if path != track.FilePath {
				t.Errorf("triggered wrong path %s", path)
			}
		case <-time.After(time.Second):
			t.Error("expected a background download trigger")
		}
	})

	t.Run("serves materialized file and touches it", func(t *testing.T) {
		f := setup(t)
		track := f.track(t, "cloud/GoogleDrive-a/song.mp3", "hello world", models.SyncCached, true)

		rec := f.do("GET", streamURL(track.FilePath), "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Body.String() != "hello world" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}

		got, _ := f.tracks.Get(track.ID)
		if got.LastAccessed == nil {
			t.Error("expected last accessed to be recorded")
		}
	})

	t.Run("materialized download rejoins the cache", func(t *testing.T) {
		f := setup(t)
		track := f.track(t, "cloud/GoogleDrive-a/late.mp3", "late bytes", models.SyncDownloading, true)

		if rec := f.do("GET", streamURL(track.FilePath), ""); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		got, _ := f.tracks.Get(track.ID)
		if got.SyncStatus != models.SyncCached {
			t.Errorf("expected cached, got %s", got.SyncStatus)
		}
		if got.LastAccessed == nil {
			t.Error("expected last accessed to be recorded")
		}

		stats, err := f.manager.Stats(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if stats.CachedBytes != int64(len("late bytes")) {
			t.Errorf("expected cached bytes %d, got %d", len("late bytes"), stats.CachedBytes)
		}
	})

	t.Run("range requests", func(t *testing.T) {
		f := setup(t)
		track := f.track(t, "music/local.mp3", "0123456789", models.SyncLocal, true)

		rec := f.do("GET", streamURL(track.FilePath), "", "Range", "bytes=2-4")

		if rec.Code != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", rec.Code)
		}
		if rec.Body.String() != "234" {
			t.Errorf("unexpected range body %q", rec.Body.String())
		}
	})

	t.Run("missing local file is not triggered", func(t *testing.T) {
		f := setup(t)
		track := f.track(t, "music/gone.mp3", "", models.SyncLocal, false)

		if rec := f.do("GET", streamURL(track.FilePath), ""); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
		if len(f.downloader.triggered) != 0 {
			t.Error("local files must not trigger downloads")
		}
	})

	t.Run("errors", func(t *testing.T) {
		f := setup(t)

		tests := []struct {
			name   string
			method string
			target string
			want   int
		}{
			{"missing path", "GET", "/stream", http.StatusBadRequest},
			{"not in library", "GET", streamURL("/nowhere/x.mp3"), http.StatusNotFound},
			{"wrong method", "POST", streamURL("/nowhere/x.mp3"), http.StatusMethodNotAllowed},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if rec := f.do(tt.method, tt.target, ""); rec.Code != tt.want {
					t.Errorf("expected %d, got %d", tt.want, rec.Code)
				}
			})
		}
	})
}

func TestSourcesAPI(t *testing.T) {
	f := setup(t)
	root := filepath.Join(f.dir, "music")
	tu.MustMkdir(t, root)

	t.Run("detect", func(t *testing.T) {
		rec := f.do("GET", "/api/sources/detect", "")
		detected := decode[[]probe.DetectedSource](t, rec)
		if len(detected) != 1 || detected[0].Account != "a" {
			t.Errorf("unexpected detection %+v", detected)
		}
	})

	var id string
	t.Run("add", func(t *testing.T) {
		rec := f.do("POST", "/api/sources", fmt.Sprintf(`{"rootPath": %q, "label": "Music"}`, root))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		source := decode[models.StorageSource](t, rec)
		if source.Type != models.SourceLocal || source.Label != "Music" {
			t.Errorf("unexpected source %+v", source)
		}
		id = source.ID
	})

	t.Run("add duplicate", func(t *testing.T) {
		rec := f.do("POST", "/api/sources", fmt.Sprintf(`{"rootPath": %q}`, root))
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("add invalid", func(t *testing.T) {
		for _, body := range []string{`{}`, `not json`, `{"rootPath": "/does/not/exist"}`} {
			if rec := f.do("POST", "/api/sources", body); rec.Code != http.StatusBadRequest {
				t.Errorf("body %s: expected 400, got %d", body, rec.Code)
			}
		}
	})

	t.Run("list", func(t *testing.T) {
		listed := decode[[]models.StorageSource](t, f.do("GET", "/api/sources", ""))
		if len(listed) != 1 {
			t.Errorf("expected 1 source, got %d", len(listed))
		}
	})

	t.Run("remove", func(t *testing.T) {
		if rec := f.do("DELETE", "/api/sources/"+id, ""); rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
		if rec := f.do("DELETE", "/api/sources/"+id, ""); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 on second delete, got %d", rec.Code)
		}
	})
}

func TestAddSourceRefreshesPathIndex(t *testing.T) {
	f := setup(t)
	first := f.track(t, "cloud/GoogleDrive-a/first.mp3", "one", models.SyncCached, true)
	adopted := f.track(t, "cloud/GoogleDrive-b/second.mp3", "two", models.SyncLocal, true)

	if rec := f.do("GET", streamURL(first.FilePath), ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	root := filepath.Join(f.dir, "cloud", "GoogleDrive-b")
	rec := f.do("POST", "/api/sources", fmt.Sprintf(`{"type": "cloud", "rootPath": %q, "account": "b"}`, root))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if got, _ := f.tracks.Get(adopted.ID); got.SyncStatus != models.SyncCached {
		t.Fatalf("expected the track to be adopted as cached, got %s", got.SyncStatus)
	}

	if rec := f.do("GET", streamURL(adopted.FilePath), ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	got, _ := f.tracks.Get(adopted.ID)
	if got.LastAccessed == nil {
		t.Error("expected the adopted track to be touched")
	}
}

func TestCacheAPI(t *testing.T) {
	f := setup(t)
	track := f.track(t, "cloud/GoogleDrive-a/song.mp3", "abc", models.SyncCached, true)

	t.Run("stats", func(t *testing.T) {
		stats := decode[models.CacheStats](t, f.do("GET", "/api/cache/stats", ""))
		if stats.CachedTracks != 1 || stats.CachedBytes != 3 || stats.MaxBytes != 1000 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("budget", func(t *testing.T) {
		rec := f.do("PUT", "/api/cache/budget", `{"maxBytes": 2048}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if f.manager.MaxSize() != 2048 {
			t.Errorf("expected budget 2048, got %d", f.manager.MaxSize())
		}

		for _, body := range []string{`{}`, `{"maxBytes": -5}`, `{"maxBytes": "big"}`} {
			if rec := f.do("PUT", "/api/cache/budget", body); rec.Code != http.StatusBadRequest {
				t.Errorf("body %s: expected 400, got %d", body, rec.Code)
			}
		}
	})

	t.Run("evict under budget", func(t *testing.T) {
		result := decode[models.EvictionResult](t, f.do("POST", "/api/cache/evict", ""))
		if result != (models.EvictionResult{}) {
			t.Errorf("expected zero result, got %+v", result)
		}
	})

	t.Run("pin and unpin", func(t *testing.T) {
		if rec := f.do("POST", "/api/tracks/"+track.ID+"/pin", ""); rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
		if got, _ := f.tracks.Get(track.ID); !got.Pinned {
			t.Error("expected pinned")
		}
		if rec := f.do("POST", "/api/tracks/"+track.ID+"/unpin", ""); rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
		if rec := f.do("POST", "/api/tracks/missing/pin", ""); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		if rec := f.do("DELETE", "/api/cache/stats", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

func TestDownloadAPI(t *testing.T) {
	tests := []struct {
		name     string
		result   bool
		err      error
		wantCode int
	}{
		{"materialized", true, nil, http.StatusOK},
		{"timeout", false, fmt.Errorf("%w: slow", shared.ErrTimeout), http.StatusGatewayTimeout},
		{"unknown track", false, fmt.Errorf("%w: x", shared.ErrTrackNotFound), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.downloader.result, f.downloader.err = tt.result, tt.err

			rec := f.do("POST", "/api/tracks/abc/download", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.err == nil {
				if body := decode[map[string]bool](t, rec); !body["materialized"] {
					t.Errorf("unexpected body %v", body)
				}
			} else if body := decode[map[string]string](t, rec); body["error"] == "" {
				t.Error("expected error body")
			}
		})
	}
}

func TestRecover(t *testing.T) {
	router := NewBasicRouter()
	router.Use(Recover(nil))
	router.Handle("GET", "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewBasicRouter()
	router.Use(mark("first"), mark("second"))
	router.Handle("GET", "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if strings.Join(order, ",") != "first,second" {
		t.Errorf("unexpected middleware order %v", order)
	}
}

func TestServerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer("127.0.0.1:0", NewBasicRouter(), nil)

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}
