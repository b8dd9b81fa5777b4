package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/hoard/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP server and the periodic eviction timer until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cmd.Bool("no-sync") {
		created, err := r.registry.Sync(ctx)
		if err != nil {
			r.logger.Warn("cloud source discovery failed", "error", err)
		}
		for _, source := range created {
			r.logger.Info("new cloud source", "label", source.Label, "root", source.RootPath)
		}
		r.cache.InvalidatePathIndex()
	}

	r.cache.Start(ctx)
	defer r.cache.Stop()

	go r.logDownloads(ctx)

	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(server.NewStreamHandler(r.probe, r.tracks, r.downloads, r.cache, r.logger))
	server.NewAPI(r.registry, r.cache, r.downloads, r.logger).Register(router)
	router.Handle("GET", "/metrics", r.metrics.Handler())

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	r.writePlain("→ Serving on http://%s (Ctrl+C to stop)\n", addr)
	if err := server.NewServer(addr, router, r.logger).Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// logDownloads reports settled downloads until ctx is done.
func (r *Runner) logDownloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-r.downloads.Events():
			if event.Materialized {
				r.logger.Info("download complete", "path", event.Path, "track", event.TrackID)
			} else {
				r.logger.Warn("download timed out", "path", event.Path)
			}
		}
	}
}
