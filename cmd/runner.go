package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hoard/internal/cache"
	"github.com/desertthunder/hoard/internal/downloads"
	"github.com/desertthunder/hoard/internal/metrics"
	"github.com/desertthunder/hoard/internal/probe"
	"github.com/desertthunder/hoard/internal/repositories"
	"github.com/desertthunder/hoard/internal/shared"
	"github.com/desertthunder/hoard/internal/sources"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and the services built on it are opened on first use by [Runner.open], so
// setup can run before a database exists.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer

	probe     probe.Probe
	backend   cache.EvictionBackend
	requester downloads.Requester

	db        *sql.DB
	tracks    *repositories.TrackRepository
	sources   *repositories.SourceRepository
	registry  *sources.Registry
	downloads *downloads.Coordinator
	cache     *cache.Manager
	metrics   *metrics.Metrics
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer

	// Probe, Backend and Requester replace the filesystem, helper process and read trigger.
	Probe     probe.Probe
	Backend   cache.EvictionBackend
	Requester downloads.Requester
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		probe:      opts.Probe,
		backend:    opts.Backend,
		requester:  opts.Requester,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, sourcesCommand, cacheCommand, tracksCommand, downloadCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig resolves the configuration once: an explicit Config wins, then the --config file,
// then the embedded defaults when that file does not exist.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	path := r.configPath
	if cmd != nil && cmd.String("config") != "" {
		path = cmd.String("config")
	}

	config := shared.DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := shared.LoadConfig(path)
			if err != nil {
				return nil, err
			}
			config = loaded
		} else {
			r.logger.Debug("config file not found, using defaults", "path", path)
		}
	}

	shared.SetLogLevel(r.logger, shared.ParseLogLevel(config.Log.Level))
	r.config, r.configPath = config, path
	return config, nil
}

// open connects to the database and wires the cache services.
func (r *Runner) open(cmd *cli.Command) error {
	if r.db != nil {
		return nil
	}

	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := shared.OpenConfigured(config)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if r.probe == nil {
		r.probe = probe.NewFileProbe(probe.ConventionFromConfig(config), r.logger)
	}
	if r.backend == nil {
		r.backend = cache.NewProcessBackend(shared.ExpandHome(config.Cache.HelperPath), config.Cache.HelperMarker, r.logger)
	}

	r.db = db
	r.tracks = repositories.NewTrackRepository(db)
	r.sources = repositories.NewSourceRepository(db)
	r.metrics = metrics.New()
	r.registry = sources.NewRegistry(r.probe, r.sources, r.tracks, r.logger)

	opts := downloads.OptionsFromConfig(config)
	opts.Requester = r.requester
	r.downloads = downloads.NewCoordinator(r.probe, r.tracks, opts, r.metrics, r.logger)

	r.cache = cache.NewManager(r.tracks, r.probe, r.backend, cache.OptionsFromConfig(config), r.metrics, r.logger).
		WithBudgetStore(repositories.NewSettingsRepository(db)).
		WithPrefetcher(r.downloads)

	return nil
}

// Close stops background work and closes the database. Safe to call more than once.
func (r *Runner) Close() {
	if r.cache != nil {
		r.cache.Stop()
	}
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
