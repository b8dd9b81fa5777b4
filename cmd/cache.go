package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/desertthunder/hoard/internal/formatter"
	"github.com/desertthunder/hoard/internal/shared"
	"github.com/urfave/cli/v3"
)

// CacheStats prints cache usage against the budget.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	stats, err := r.cache.Stats(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stats, cmd.Bool("pretty"))
	}
	return r.writePlain("%s", formatter.RenderStats(stats))
}

// CacheEvict runs one eviction sweep.
func (r *Runner) CacheEvict(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	result := r.cache.Evict(ctx)

	if cmd.Bool("json") {
		return r.writeJSON(result, cmd.Bool("pretty"))
	}
	return r.writePlain("%s", formatter.RenderEviction(result))
}

// CacheBudget prints the budget, or sets it when a byte count is given.
func (r *Runner) CacheBudget(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	arg := cmd.StringArg("bytes")
	if arg == "" {
		return r.writePlain("%s (%d bytes)\n", formatter.FormatBytes(r.cache.MaxSize()), r.cache.MaxSize())
	}

	bytes, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: budget must be a byte count: %v", shared.ErrInvalidArgument, err)
	}
	if err := r.cache.SetMaxSize(bytes); err != nil {
		return err
	}

	return r.writePlain("✓ Budget set to %s\n", formatter.FormatBytes(bytes))
}

// CachePin pins a track, optionally waiting for it to download.
func (r *Runner) CachePin(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	if err := r.open(cmd); err != nil {
		return err
	}

	if cmd.Bool("wait") {
		if err := r.tracks.SetPinned(id, true); err != nil {
			return err
		}
		if _, err := r.downloads.DownloadTrack(ctx, id); err != nil {
			return fmt.Errorf("pinned, but the download did not finish: %w", err)
		}
		return r.writePlain("✓ Pinned %s (local)\n", id)
	}

	if err := r.cache.Pin(id); err != nil {
		return err
	}
	return r.writePlain("✓ Pinned %s\n", id)
}

// CacheUnpin clears a track's pin.
func (r *Runner) CacheUnpin(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	if err := r.open(cmd); err != nil {
		return err
	}

	if err := r.cache.Unpin(id); err != nil {
		return err
	}
	return r.writePlain("✓ Unpinned %s\n", id)
}
