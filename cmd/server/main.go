package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/pollbooth/cmd/server/internal/commands"
)

var version = "dev"

type gatewayCLI struct {
	Debug   bool             `help:"Log at debug level with console output." env:"POLLBOOTH_GATEWAY_DEBUG"`
	Version kong.VersionFlag `help:"Print the gateway version."`

	Serve commands.ServeCmd `cmd:"" default:"withargs" help:"Serve the auth endpoints and polls API."`
}

func main() {
	var cli gatewayCLI

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("pollbooth-gateway"),
		kong.Description("Development stand-in for the pollbooth auth gateway and polls API."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
