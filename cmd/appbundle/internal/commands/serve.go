package commands

import (
	"context"

	"github.com/wolfeidau/appbundle/internal/assets"
	"github.com/wolfeidau/appbundle/internal/devserver"
	"github.com/wolfeidau/appbundle/internal/logger"
	"github.com/wolfeidau/appbundle/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// ServeCmd builds, watches and serves the application directory. It only
// runs in development mode.
type ServeCmd struct {
	ProjectFlags `embed:""`
	WatchFlags   `embed:""`

	Port int    `help:"dev server port" default:"3030" env:"APPBUNDLE_PORT"`
	Host string `help:"dev server host" default:"localhost" env:"APPBUNDLE_HOST"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	stop := telemetry.Start(ctx, c.Telemetry, serviceName, globals.Version, log)
	defer stop()

	cfg, err := c.config()
	if err != nil {
		return err
	}
	c.apply(cfg)
	cfg.DevServer.Port = c.Port

	srv, err := devserver.New(cfg, log, devserver.WithHost(c.Host))
	if err != nil {
		return err
	}

	p, release, err := c.pipeline(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	ln, err := srv.Listen(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})

	g.Go(func() error {
		return watchAndBuild(ctx, p, log, func(ctx context.Context, res *assets.Result) {
			changed := res.Changed()
			if len(changed) == 0 {
				return
			}
			srv.Reloader().Publish(ctx, devserver.NewEvent(res.ID.String(), changed))
		})
	})

	return g.Wait()
}
