package commands

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/appbundle/internal/assets"
	"github.com/wolfeidau/appbundle/internal/config"
	"github.com/wolfeidau/appbundle/internal/logger"
	"github.com/wolfeidau/appbundle/internal/telemetry"
	"github.com/wolfeidau/appbundle/internal/watcher"
)

// WatchCmd builds, then rebuilds whenever a source file changes.
type WatchCmd struct {
	ProjectFlags `embed:""`
	WatchFlags   `embed:""`
}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	stop := telemetry.Start(ctx, c.Telemetry, serviceName, globals.Version, log)
	defer stop()

	cfg, err := c.config()
	if err != nil {
		return err
	}
	c.apply(cfg)

	p, release, err := c.pipeline(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	return watchAndBuild(ctx, p, log, nil)
}

// watchAndBuild runs an initial build and then rebuilds after every
// aggregated burst of changes until ctx is done. Build errors are logged and
// the watch continues. onBuild is called after each successful build.
func watchAndBuild(ctx context.Context, p *assets.Pipeline, log zerolog.Logger, onBuild func(context.Context, *assets.Result)) error {
	cfg := p.Config()

	build := func(ctx context.Context) {
		res, err := p.Build(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Bool("build_error", assets.IsBuildError(err)).Msg("Build failed")
			}
			return
		}
		logResult(log, res)
		if onBuild != nil {
			onBuild(ctx, res)
		}
	}

	w, err := watcher.New(watcher.Options{
		Root:             cfg.Paths.AppDir,
		Skip:             skipDirs(cfg),
		AggregateTimeout: cfg.WatchOptions.AggregateTimeout,
		Poll:             cfg.WatchOptions.Poll,
	}, log)
	if err != nil {
		return err
	}

	build(ctx)

	return w.Run(ctx, func(ctx context.Context, paths []string) {
		if !needsRebuild(cfg, p.Inputs(), paths) {
			log.Debug().Strs("paths", paths).Msg("Changes are not bundle inputs, skipping rebuild")
			return
		}
		log.Info().Int("changed", len(paths)).Msg("Rebuilding")
		telemetry.GetMetrics().RebuildsTotal.Add(ctx, 1)
		build(ctx)
	})
}

// needsRebuild reports whether a changed path is an input of the last build
// or a file one of the rules loads. Before the first successful build every
// change counts.
func needsRebuild(cfg *config.Config, inputs []string, paths []string) bool {
	if len(inputs) == 0 {
		return true
	}
	for _, path := range paths {
		if _, ok := cfg.Module.Match(path); ok {
			return true
		}
		rel, err := filepath.Rel(cfg.Context, path)
		if err == nil && slices.Contains(inputs, filepath.ToSlash(rel)) {
			return true
		}
	}
	return false
}
