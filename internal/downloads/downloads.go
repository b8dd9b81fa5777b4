// Package downloads triggers provider fetches for cloud placeholders and waits for them to
// materialize, running at most one fetch per path at a time.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hoard/internal/metrics"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/probe"
	"github.com/desertthunder/hoard/internal/shared"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	InitialBackoff = 200 * time.Millisecond
	MaxBackoff     = 2 * time.Second
	BackoffFactor  = 1.5

	DefaultTimeout         = 60 * time.Second
	DefaultPrefetchWorkers = 4
)

// TrackStore is the track persistence the coordinator updates; satisfied by
// repositories.TrackRepository.
type TrackStore interface {
	Get(id string) (*models.Track, error)
	GetByPath(path string) (*models.Track, error)
	MarkDownloading(path string) (bool, error)
	SetSyncStatusByPath(path string, status models.SyncStatus) (int64, error)
}

// Requester asks the provider to start fetching path.
type Requester interface {
	Request(path string) error
}

// RequesterFunc adapts a function to [Requester].
type RequesterFunc func(path string) error

func (f RequesterFunc) Request(path string) error { return f(path) }

// FileRequester reads a single byte, which makes the provider fetch the file on demand.
type FileRequester struct{}

func (FileRequester) Request(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Options configures a [Coordinator]. Zero values select the defaults.
type Options struct {
	Timeout         time.Duration
	PrefetchRate    float64
	PrefetchWorkers int
	Requester       Requester
	// NoWatch disables fsnotify wake-ups so waits rely on polling alone.
	NoWatch bool
}

// OptionsFromConfig builds Options from the [downloads] config section.
func OptionsFromConfig(config *shared.Config) Options {
	return Options{
		Timeout:         config.Downloads.Timeout.Duration,
		PrefetchRate:    config.Downloads.PrefetchRate,
		PrefetchWorkers: config.Downloads.PrefetchWorkers,
	}
}

// Coordinator deduplicates download triggers per path and reports completions on Events.
type Coordinator struct {
	probe     probe.Probe
	tracks    TrackStore
	requester Requester
	metrics   *metrics.Metrics
	logger    *log.Logger

	timeout         time.Duration
	prefetchRate    rate.Limit
	prefetchWorkers int
	watch           bool

	group  singleflight.Group
	events chan models.DownloadEvent
}

// NewCoordinator creates a Coordinator. tracks and m may be nil.
func NewCoordinator(p probe.Probe, tracks TrackStore, opts Options, m *metrics.Metrics, logger *log.Logger) *Coordinator {
	c := &Coordinator{
		probe:           p,
		tracks:          tracks,
		requester:       opts.Requester,
		metrics:         m,
		logger:          shared.WithLogger(logger, "component", "downloads"),
		timeout:         opts.Timeout,
		prefetchRate:    rate.Limit(opts.PrefetchRate),
		prefetchWorkers: opts.PrefetchWorkers,
		watch:           !opts.NoWatch,
		events:          make(chan models.DownloadEvent, 64),
	}

	if c.requester == nil {
		c.requester = FileRequester{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if opts.PrefetchRate <= 0 {
		c.prefetchRate = rate.Inf
	}
	if c.prefetchWorkers <= 0 {
		c.prefetchWorkers = DefaultPrefetchWorkers
	}

	return c
}

// Events returns the channel on which settled downloads are announced.
// Events are dropped when nobody is reading.
func (c *Coordinator) Events() <-chan models.DownloadEvent {
	return c.events
}

// Timeout returns the hard wait applied to each triggered download.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// RequestDownload nudges the provider to fetch path. Failures are logged and ignored: the
// provider may start fetching even when the read itself fails.
func (c *Coordinator) RequestDownload(path string) {
	if err := c.requester.Request(path); err != nil {
		c.logger.Debug("download request read failed", "path", path, "error", err)
	}
}

// WaitForMaterialization polls the probe with backoff until path is materialized or timeout
// elapses. It never blocks past timeout.
func (c *Coordinator) WaitForMaterialization(path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	var wake <-chan struct{}
	if c.watch {
		w := watchFile(path)
		defer w.Close()
		wake = w.Wake()
	}

	delay := InitialBackoff
	for {
		if c.probe.IsMaterialized(path) {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		timer := time.NewTimer(min(delay, remaining))
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}

		delay = min(time.Duration(float64(delay)*BackoffFactor), MaxBackoff)
	}
}

// TriggerDownload requests path and waits for it to materialize. Concurrent callers for the same
// path share a single fetch and receive the same result.
//
// The fetch runs independently of ctx; a cancelled caller stops waiting and gets false while the
// download continues for the others.
func (c *Coordinator) TriggerDownload(ctx context.Context, path string) bool {
	var leader bool
	ch := c.group.DoChan(path, func() (any, error) {
		leader = true
		return c.download(path), nil
	})

	select {
	case res := <-ch:
		if res.Shared && !leader {
			c.metrics.RecordDedup()
		}
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) download(path string) bool {
	logger := c.logger.With("path", path)

	if c.tracks != nil {
		if _, err := c.tracks.MarkDownloading(path); err != nil {
			logger.Warn("failed to mark track downloading", "error", err)
		}
	}

	start := time.Now()
	c.RequestDownload(path)
	materialized := c.WaitForMaterialization(path, c.timeout)
	c.metrics.RecordDownload(materialized)

	event := models.DownloadEvent{Path: path, Materialized: materialized, At: time.Now().UTC()}

	if !materialized {
		logger.Warn("download did not materialize", "timeout", c.timeout)
		c.sendEvent(event)
		return false
	}

	if c.tracks != nil {
		if _, err := c.tracks.SetSyncStatusByPath(path, models.SyncCached); err != nil {
			logger.Error("failed to mark track cached", "error", err)
		}
		if track, err := c.tracks.GetByPath(path); err == nil {
			event.TrackID = track.ID
		}
	}

	logger.Info("download materialized", "elapsed", time.Since(start).Round(time.Millisecond))
	c.sendEvent(event)
	return true
}

// sendEvent publishes without blocking.
func (c *Coordinator) sendEvent(event models.DownloadEvent) {
	select {
	case c.events <- event:
	default:
	}
}

// DownloadTrack makes a track available now. Unlike [Coordinator.TriggerDownload] it reports a
// timeout as an error wrapping [shared.ErrTimeout].
func (c *Coordinator) DownloadTrack(ctx context.Context, trackID string) (bool, error) {
	if c.tracks == nil {
		return false, fmt.Errorf("%w: no track store", shared.ErrNotImplemented)
	}

	track, err := c.tracks.Get(trackID)
	if err != nil {
		return false, err
	}

	if c.probe.IsMaterialized(track.FilePath) {
		if track.SyncStatus == models.SyncCloudOnly || track.SyncStatus == models.SyncDownloading {
			if _, err := c.tracks.SetSyncStatusByPath(track.FilePath, models.SyncCached); err != nil {
				c.logger.Warn("failed to correct sync status", "path", track.FilePath, "error", err)
			}
		}
		return true, nil
	}

	if c.TriggerDownload(ctx, track.FilePath) {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return false, fmt.Errorf("%w: %s did not materialize within %s", shared.ErrTimeout, track.FilePath, c.timeout)
}

// Prefetch triggers downloads for paths, rate limited and with bounded concurrency, and returns
// how many materialized.
func (c *Coordinator) Prefetch(ctx context.Context, paths []string) int {
	limiter := rate.NewLimiter(c.prefetchRate, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.prefetchWorkers)

	var count atomic.Int64
	for _, path := range paths {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			if c.TriggerDownload(gctx, path) {
				count.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()

	n := int(count.Load())
	c.logger.Debug("prefetch finished", "requested", len(paths), "materialized", n)
	return n
}
