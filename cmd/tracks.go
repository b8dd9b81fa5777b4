package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/hoard/internal/formatter"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/shared"
	"github.com/desertthunder/hoard/internal/sources"
	"github.com/urfave/cli/v3"
)

var audioExtensions = map[string]bool{
	".aac": true, ".aiff": true, ".alac": true, ".flac": true, ".m4a": true,
	".mp3": true, ".ogg": true, ".opus": true, ".wav": true, ".wma": true,
}

func isAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// TracksImport adds audio files to the library, classifying each by the probe and
// assigning it to its owning source.
func (r *Runner) TracksImport(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	if err := r.open(cmd); err != nil {
		return err
	}

	if _, err := r.registry.Sync(ctx); err != nil {
		r.logger.Warn("cloud source sync failed", "error", err)
	}

	owners, err := r.registry.List()
	if err != nil {
		return err
	}

	var added, skipped int
	for _, root := range paths {
		root, err := filepath.Abs(shared.ExpandHome(root))
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !isAudioFile(path) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			track := models.NewTrack(path, info.Size())
			track.SyncStatus = r.classify(path)
			if owner := sources.LongestMatch(owners, path); owner != nil {
				track.SourceID = &owner.ID
			}

			if err := r.tracks.Create(track); err != nil {
				if errors.Is(err, shared.ErrDuplicateTrack) {
					skipped++
					return nil
				}
				return err
			}
			r.logger.Debug("track added", "path", path, "status", track.SyncStatus)
			added++
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", shared.ErrInvalidArgument, root)
		}
		if err != nil {
			return err
		}
	}

	r.cache.InvalidatePathIndex()
	return r.writePlain("✓ Imported %d tracks (%d already in library)\n", added, skipped)
}

func (r *Runner) classify(path string) models.SyncStatus {
	if !r.probe.IsCloudBackedPath(path) {
		return models.SyncLocal
	}
	if r.probe.IsMaterialized(path) {
		return models.SyncCached
	}
	return models.SyncCloudOnly
}

// TracksList prints library tracks as text, CSV or JSON.
func (r *Runner) TracksList(ctx context.Context, cmd *cli.Command) error {
	status := models.SyncStatus(cmd.String("status"))
	if status != "" && !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, status)
	}

	if err := r.open(cmd); err != nil {
		return err
	}

	criteria := map[string]any{"sync_status": string(status)}
	if cmd.Bool("pinned") {
		criteria["pinned"] = true
	}

	tracks, err := r.tracks.List(criteria)
	if err != nil {
		return err
	}

	switch format := cmd.String("format"); format {
	case "json":
		if tracks == nil {
			tracks = []*models.Track{}
		}
		return r.writeJSON(tracks, false)
	case "csv":
		data, err := formatter.TracksToCSV(tracks)
		if err != nil {
			return err
		}
		_, err = r.output.Write(data)
		return err
	case "text", "":
		_, err := r.output.Write(formatter.TracksToText(tracks))
		return err
	default:
		return fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}
