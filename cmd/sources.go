package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/hoard/internal/formatter"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/shared"
	"github.com/urfave/cli/v3"
)

// SourcesDetect lists cloud account mounts under the configured root.
func (r *Runner) SourcesDetect(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	detected := r.registry.Detect()
	if cmd.Bool("json") {
		return r.writeJSON(detected, cmd.Bool("pretty"))
	}
	return r.writePlain("%s", formatter.RenderDetected(detected))
}

// SourcesList prints registered sources.
func (r *Runner) SourcesList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	all, err := r.registry.List()
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		if all == nil {
			all = []*models.StorageSource{}
		}
		return r.writeJSON(all, cmd.Bool("pretty"))
	}
	return r.writePlain("%s", formatter.RenderSources(all))
}

// SourcesAdd registers a storage root.
func (r *Runner) SourcesAdd(ctx context.Context, cmd *cli.Command) error {
	root := cmd.StringArg("root")
	if root == "" {
		return fmt.Errorf("%w: root", shared.ErrMissingArgument)
	}

	sourceType := models.SourceType(cmd.String("type"))
	if sourceType != models.SourceLocal && sourceType != models.SourceCloud {
		return fmt.Errorf("%w: type must be local or cloud, got %q", shared.ErrInvalidArgument, sourceType)
	}

	if err := r.open(cmd); err != nil {
		return err
	}

	source, err := r.registry.Add(sourceType, root, cmd.String("label"), cmd.String("account"))
	if err != nil {
		return err
	}
	r.cache.InvalidatePathIndex()

	if cmd.Bool("json") {
		return r.writeJSON(source, cmd.Bool("pretty"))
	}
	return r.writePlain("✓ Added %s source %s (%s)\n  id: %s\n", source.Type, source.Label, source.RootPath, source.ID)
}

// SourcesRemove deletes a source.
func (r *Runner) SourcesRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	if err := r.open(cmd); err != nil {
		return err
	}

	if err := r.registry.Remove(id); err != nil {
		return err
	}
	return r.writePlain("✓ Removed source %s\n", id)
}

// SourcesSync registers new cloud accounts and migrates their existing tracks.
func (r *Runner) SourcesSync(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	created, err := r.registry.Sync(ctx)
	if err != nil {
		return err
	}
	r.cache.InvalidatePathIndex()

	if cmd.Bool("json") {
		if created == nil {
			created = []*models.StorageSource{}
		}
		return r.writeJSON(created, cmd.Bool("pretty"))
	}
	if len(created) == 0 {
		return r.writePlain("No new cloud sources\n")
	}
	return r.writePlain("%s", formatter.RenderSources(created))
}
