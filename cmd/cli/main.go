package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/pollbooth/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login   commands.LoginCmd   `cmd:"" help:"Sign in with employee id, birth date and a one-time code"`
		Logout  commands.LogoutCmd  `cmd:"" help:"Sign out on the server and locally"`
		Status  commands.StatusCmd  `cmd:"" help:"Show the current session"`
		Profile commands.ProfileCmd `cmd:"" help:"Edit the cached display profile"`
		Token   commands.TokenCmd   `cmd:"" help:"Print the Authorization header value for scripting"`
		Polls   commands.PollsCmd   `cmd:"" help:"List, watch and vote in polls"`

		Config    string `help:"Path to a config file." type:"path" env:"POLLBOOTH_CONFIG"`
		ServerURL string `help:"Override the configured server URL." name:"server"`
		Debug     bool   `help:"Enable debug mode."`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("pollbooth"),
		kong.Description("Employee voting from the terminal."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:      cli.Debug,
		Version:    version,
		ConfigPath: cli.Config,
		ServerURL:  cli.ServerURL,
	})
	cmd.FatalIfErrorf(err)
}
