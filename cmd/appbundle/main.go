package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/appbundle/cmd/appbundle/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Build   commands.BuildCmd   `cmd:"" help:"Build the bundles once"`
		Watch   commands.WatchCmd   `cmd:"" help:"Build and rebuild on change"`
		Serve   commands.ServeCmd   `cmd:"" help:"Build, watch and run the dev server (development only)"`
		Inspect commands.InspectCmd `cmd:"" help:"Print the resolved configuration"`
		Debug   bool                `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	stop()
	cmd.FatalIfErrorf(err)
}
