package commands

import (
	"context"

	"github.com/wolfeidau/appbundle/internal/logger"
	"github.com/wolfeidau/appbundle/internal/telemetry"
)

// BuildCmd runs a single build for the selected mode.
type BuildCmd struct {
	ProjectFlags `embed:""`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	stop := telemetry.Start(ctx, c.Telemetry, serviceName, globals.Version, log)
	defer stop()

	cfg, err := c.config()
	if err != nil {
		return err
	}

	log.Info().
		Str("version", globals.Version).
		Str("mode", cfg.Mode.String()).
		Str("app_dir", cfg.Paths.AppDir).
		Msg("Building")

	p, release, err := c.pipeline(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	res, err := p.Build(ctx)
	if err != nil {
		return err
	}
	logResult(log, res)

	return nil
}
