package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/imagebuilder/cmd/imagebuilder/commands"
	"git.home.luguber.info/inful/imagebuilder/internal/config"
	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/version"
)

func main() {
	// .env files only fill variables the environment does not set already.
	if _, err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(7)
	}

	cli := &commands.CLI{}
	global := &commands.Global{}
	vars := commands.Vars()
	vars["version"] = version.String()
	parser := kong.Must(cli,
		kong.Name("imagebuilder"),
		kong.Description("Build watermarked, size-capped web derivatives from a catalog of originals."),
		kong.UsageOnError(),
		kong.Configuration(config.Loader, commands.DefaultConfigFile),
		vars,
		kong.Bind(global),
	)

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := ctx.Run(global, cli); err != nil {
		iberrors.NewCLIErrorAdapter(cli.Verbose, global.Logger).HandleError(err)
	}
}
