package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/probe"
	"github.com/desertthunder/hoard/internal/shared"
)

// TrackLookup resolves tracks; satisfied by repositories.TrackRepository.
type TrackLookup interface {
	Get(id string) (*models.Track, error)
	GetByPath(path string) (*models.Track, error)
}

// Downloader is satisfied by downloads.Coordinator.
type Downloader interface {
	TriggerDownload(ctx context.Context, path string) bool
	DownloadTrack(ctx context.Context, trackID string) (bool, error)
}

// CacheService is satisfied by cache.Manager.
type CacheService interface {
	TouchByPath(path string)
	MarkMaterialized(track *models.Track)
	InvalidatePathIndex()
	Stats(ctx context.Context) (models.CacheStats, error)
	SetMaxSize(bytes int64) error
	MaxSize() int64
	Evict(ctx context.Context) models.EvictionResult
	Pin(id string) error
	Unpin(id string) error
}

// SourceService is satisfied by sources.Registry.
type SourceService interface {
	Detect() []probe.DetectedSource
	List() ([]*models.StorageSource, error)
	Add(sourceType models.SourceType, root, label, account string) (*models.StorageSource, error)
	Remove(id string) error
}

// StreamHandler serves library files without ever waiting on a cloud download.
type StreamHandler struct {
	probe     probe.Probe
	tracks    TrackLookup
	downloads Downloader
	cache     CacheService
	logger    *log.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(p probe.Probe, tracks TrackLookup, downloads Downloader, cache CacheService, logger *log.Logger) *StreamHandler {
	return &StreamHandler{
		probe:     p,
		tracks:    tracks,
		downloads: downloads,
		cache:     cache,
		logger:    shared.WithLogger(logger, "component", "stream"),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *StreamHandler) Routes() []string {
	return []string{"GET /stream"}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: path", shared.ErrMissingArgument))
		return
	}

	track, err := h.tracks.GetByPath(path)
	if err != nil {
		if errors.Is(err, shared.ErrTrackNotFound) {
			err = fmt.Errorf("%w: %s", shared.ErrNotInLibrary, path)
		}
		writeError(w, statusFor(err), err)
		return
	}

	if !h.probe.IsMaterialized(path) {
		if !track.IsCloudBacked() {
			writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", shared.ErrNotMaterialized, path))
			return
		}

		go h.downloads.TriggerDownload(context.WithoutCancel(r.Context()), path)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.logger.Warn("materialized file could not be opened", "path", path, "error", err)
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", shared.ErrNotMaterialized, path))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	h.cache.MarkMaterialized(track)
	h.cache.TouchByPath(path)
}

// API serves the JSON operations used by the desktop shell.
type API struct {
	sources   SourceService
	cache     CacheService
	downloads Downloader
	logger    *log.Logger
}

// NewAPI creates an API.
func NewAPI(sources SourceService, cache CacheService, downloads Downloader, logger *log.Logger) *API {
	return &API{
		sources:   sources,
		cache:     cache,
		downloads: downloads,
		logger:    shared.WithLogger(logger, "component", "api"),
	}
}

// Register adds the API routes to router.
func (a *API) Register(router Router) {
	router.Handle("GET", "/api/sources/detect", http.HandlerFunc(a.detectSources))
	router.Handle("GET", "/api/sources", http.HandlerFunc(a.listSources))
	router.Handle("POST", "/api/sources", http.HandlerFunc(a.addSource))
	router.Handle("DELETE", "/api/sources/{id}", http.HandlerFunc(a.removeSource))
	router.Handle("GET", "/api/cache/stats", http.HandlerFunc(a.stats))
	router.Handle("PUT", "/api/cache/budget", http.HandlerFunc(a.setBudget))
	router.Handle("POST", "/api/cache/evict", http.HandlerFunc(a.evict))
	router.Handle("POST", "/api/tracks/{id}/pin", http.HandlerFunc(a.pin))
	router.Handle("POST", "/api/tracks/{id}/unpin", http.HandlerFunc(a.unpin))
	router.Handle("POST", "/api/tracks/{id}/download", http.HandlerFunc(a.download))
}

func (a *API) detectSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sources.Detect())
}

func (a *API) listSources(w http.ResponseWriter, r *http.Request) {
	all, err := a.sources.List()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if all == nil {
		all = []*models.StorageSource{}
	}
	writeJSON(w, http.StatusOK, all)
}

type addSourceRequest struct {
	Type     models.SourceType `json:"type"`
	RootPath string            `json:"rootPath"`
	Label    string            `json:"label"`
	Account  string            `json:"account"`
}

func (a *API) addSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RootPath == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: rootPath", shared.ErrMissingArgument))
		return
	}
	if req.Type == "" {
		req.Type = models.SourceLocal
	}

	source, err := a.sources.Add(req.Type, req.RootPath, req.Label, req.Account)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	a.cache.InvalidatePathIndex()
	writeJSON(w, http.StatusCreated, source)
}

func (a *API) removeSource(w http.ResponseWriter, r *http.Request) {
	if err := a.sources.Remove(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.cache.Stats(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type budgetRequest struct {
	MaxBytes *int64 `json:"maxBytes"`
}

func (a *API) setBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.MaxBytes == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: maxBytes", shared.ErrMissingArgument))
		return
	}

	if err := a.cache.SetMaxSize(*req.MaxBytes); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"maxBytes": a.cache.MaxSize()})
}

func (a *API) evict(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cache.Evict(r.Context()))
}

func (a *API) pin(w http.ResponseWriter, r *http.Request) {
	if err := a.cache.Pin(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) unpin(w http.ResponseWriter, r *http.Request) {
	if err := a.cache.Unpin(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := a.downloads.DownloadTrack(r.Context(), id)
	if err != nil {
		a.logger.Warn("on-demand download failed", "id", id, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"materialized": ok})
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrTrackNotFound),
		errors.Is(err, shared.ErrSourceNotFound),
		errors.Is(err, shared.ErrNotInLibrary):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrDuplicateSource),
		errors.Is(err, shared.ErrDuplicateTrack):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
