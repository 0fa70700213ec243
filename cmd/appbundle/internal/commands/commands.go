package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/appbundle/internal/assets"
	"github.com/wolfeidau/appbundle/internal/config"
	"github.com/wolfeidau/appbundle/internal/sass"
)

const serviceName = "appbundle"

type Globals struct {
	Debug   bool
	Version string
}

// ProjectFlags locate the project and select the build mode.
type ProjectFlags struct {
	Dir        string `help:"project directory containing app/" default:"." type:"existingdir" env:"APPBUNDLE_DIR"`
	Env        string `help:"build mode, only \"development\" selects development" default:"" env:"NODE_ENV" name:"node-env"`
	SassBinary string `help:"path to the dart-sass executable" default:"" env:"APPBUNDLE_SASS_BINARY"`
	Telemetry  bool   `help:"export metrics and traces over OTLP" default:"false" env:"APPBUNDLE_TELEMETRY"`
}

// WatchFlags override the watch options of the configuration.
type WatchFlags struct {
	Poll             bool          `help:"poll the file system instead of using native events" default:"true" negatable:"" env:"APPBUNDLE_POLL"`
	AggregateTimeout time.Duration `help:"quiet period after the last change before rebuilding" default:"1s" env:"APPBUNDLE_AGGREGATE_TIMEOUT"`
}

func (f *ProjectFlags) config() (*config.Config, error) {
	cfg, err := config.New(f.Dir, config.ModeFromEnv(f.Env))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (w *WatchFlags) apply(cfg *config.Config) {
	cfg.WatchOptions.Poll = w.Poll
	cfg.WatchOptions.AggregateTimeout = w.AggregateTimeout
}

// pipeline creates the asset pipeline and its sass compiler. The returned
// func releases both.
func (f *ProjectFlags) pipeline(cfg *config.Config, log zerolog.Logger) (*assets.Pipeline, func(), error) {
	compiler := sass.New(sass.Options{Binary: f.SassBinary, Timeout: 30 * time.Second}, log)

	p, err := assets.New(cfg, assets.WithLogger(log), assets.WithSass(compiler))
	if err != nil {
		_ = compiler.Close()
		return nil, nil, fmt.Errorf("failed to create asset pipeline: %w", err)
	}

	return p, func() {
		p.Close()
		if err := compiler.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop sass compiler")
		}
	}, nil
}

// skipDirs lists directory names the watcher never descends into.
func skipDirs(cfg *config.Config) []string {
	return []string{filepath.Base(cfg.Paths.DistDir), "node_modules"}
}

func logResult(log zerolog.Logger, res *assets.Result) {
	for _, w := range res.Warnings {
		log.Warn().Str("build_id", res.ID.String()).Msg(w)
	}
	for _, f := range res.Files {
		log.Debug().
			Str("file", f.Name).
			Int("size", f.Size).
			Bool("written", f.Written).
			Msg("Asset")
	}
}
