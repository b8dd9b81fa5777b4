package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/hoard/internal/shared"
	"github.com/urfave/cli/v3"
)

// Download fetches a track on demand and fails when it does not materialize in time.
func (r *Runner) Download(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	if err := r.open(cmd); err != nil {
		return err
	}

	r.writePlain("→ Waiting up to %s for %s...\n", r.downloads.Timeout(), id)

	ok, err := r.downloads.DownloadTrack(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{"id": id, "materialized": ok}, cmd.Bool("pretty"))
	}
	return r.writePlain("✓ %s is local\n", id)
}
