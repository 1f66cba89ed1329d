package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/soundlens/soundlens/internal/cache"
	"github.com/soundlens/soundlens/internal/repositories"
	"github.com/soundlens/soundlens/internal/services"
	"github.com/soundlens/soundlens/internal/shared"
	"github.com/soundlens/soundlens/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config *shared.Config
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config: opts.Config,
		logger: opts.Logger,
		output: opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, syncCommand, statusCommand, disconnectCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// stack bundles the service graph the per-user commands operate on. Built
// fresh per command invocation so each command owns its database handle.
type stack struct {
	db      *sql.DB
	auth    *services.SpotifyAuth
	spotify *services.SpotifyClient
	syncer  *tasks.Syncer
	cache   *cache.Service
}

func (s *stack) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
	s.db.Close()
}

func (r *Runner) buildStack() (*stack, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	connections := repositories.NewConnectionRepository(db)
	catalog := repositories.NewCatalogRepository(db)
	history := repositories.NewHistoryRepository(db)

	auth, err := services.NewSpotifyAuth(r.config.Credentials.Spotify, connections, r.logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	spotify := services.NewSpotifyClient(nil, auth, r.logger)
	syncer := tasks.NewSyncer(connections, auth, spotify, catalog, history, r.config.Sync, r.logger)
	cacheSvc := cache.New(r.config.Cache, r.logger)

	return &stack{
		db:      db,
		auth:    auth,
		spotify: spotify,
		syncer:  syncer,
		cache:   cacheSvc,
	}, nil
}

// loadConfig reads the config file at path, creating it from the template
// when absent. Falls back to defaults when the file cannot be used.
func (r *Runner) loadConfig(configPath string) *shared.Config {
	if _, err := os.Stat(configPath); err == nil {
		config, err := shared.LoadConfig(configPath)
		if err != nil {
			r.logger.Warn("failed to load config, using defaults", "error", err)
			return shared.DefaultConfig()
		}
		return config
	}

	r.logger.Info("config file not found, creating from template", "path", configPath)
	if err := shared.CreateConfigFile(configPath); err != nil {
		r.logger.Warn("failed to create config file, using defaults", "error", err)
		return shared.DefaultConfig()
	}

	config, err := shared.LoadConfig(configPath)
	if err != nil {
		r.logger.Warn("failed to load created config, using defaults", "error", err)
		return shared.DefaultConfig()
	}
	return config
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
