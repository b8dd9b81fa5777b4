// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// withJSON appends fresh --json and --pretty flags.
func withJSON(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
		},
	)
}

// setupCommand initializes local state
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and database",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Create the database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// serveCommand runs the streaming, IPC and metrics server
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve library files, cache operations and metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.host and server.port",
			},
			&cli.BoolFlag{
				Name:  "no-sync",
				Usage: "Skip cloud source discovery at startup",
			},
		},
		Action: r.Serve,
	}
}

// sourcesCommand manages storage roots
func sourcesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "sources",
		Aliases: []string{"src"},
		Usage:   "Manage local and cloud storage roots",
		Commands: []*cli.Command{
			{
				Name:   "detect",
				Usage:  "List cloud account mounts found on disk",
				Flags:  withJSON(),
				Action: r.SourcesDetect,
			},
			{
				Name:   "list",
				Usage:  "List registered sources",
				Flags:  withJSON(),
				Action: r.SourcesList,
			},
			{
				Name:  "add",
				Usage: "Register a storage root",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "root"},
				},
				Flags: withJSON(
					&cli.StringFlag{
						Name:  "type",
						Usage: "Source type: local or cloud",
						Value: "local",
					},
					&cli.StringFlag{
						Name:  "label",
						Usage: "Display label, defaults to the directory name",
					},
					&cli.StringFlag{
						Name:  "account",
						Usage: "Cloud account identifier",
					},
				),
				Action: r.SourcesAdd,
			},
			{
				Name:  "remove",
				Usage: "Remove a source; its tracks stay in the library",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.SourcesRemove,
			},
			{
				Name:   "sync",
				Usage:  "Register newly mounted cloud accounts and adopt their tracks",
				Flags:  withJSON(),
				Action: r.SourcesSync,
			},
		},
	}
}

// cacheCommand inspects and controls the local cache
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and control the local cache of cloud files",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show cache usage",
				Flags:  withJSON(),
				Action: r.CacheStats,
			},
			{
				Name:   "evict",
				Usage:  "Run an eviction sweep now",
				Flags:  withJSON(),
				Action: r.CacheEvict,
			},
			{
				Name:  "budget",
				Usage: "Show or set the cache budget in bytes",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "bytes"},
				},
				Action: r.CacheBudget,
			},
			{
				Name:  "pin",
				Usage: "Keep a track local and exempt it from eviction",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for a cloud-only track to download",
					},
				},
				Action: r.CachePin,
			},
			{
				Name:  "unpin",
				Usage: "Make a track eligible for eviction again",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.CacheUnpin,
			},
		},
	}
}

// tracksCommand manages library entries
func tracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tracks",
		Usage: "Add and list library tracks",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Add audio files, walking directories",
				ArgsUsage: "<path>...",
				Action:    r.TracksImport,
			},
			{
				Name:  "list",
				Usage: "List tracks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by sync status: local, downloading, cached, cloud-only",
					},
					&cli.BoolFlag{
						Name:  "pinned",
						Usage: "Only pinned tracks",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, csv or json",
						Value:   "text",
					},
				},
				Action: r.TracksList,
			},
		},
	}
}

// downloadCommand fetches one track now
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Download a cloud-only track and wait until it is local",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id"},
		},
		Flags:  withJSON(),
		Action: r.Download,
	}
}
