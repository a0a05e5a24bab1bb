package commands

import (
	"fmt"

	"git.home.luguber.info/inful/imagebuilder/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool   `help:"Overwrite an existing configuration file."`
	Path  string `arg:"" optional:"" help:"Where to write the file." default:"${default_config}"`
}

func (i *InitCmd) Run(_ *Global, _ *CLI) error {
	return RunInit(i.Path, i.Force)
}

func RunInit(path string, force bool) error {
	if err := config.Init(path, force); err != nil {
		return err
	}
	fmt.Printf("Wrote example configuration to %s\n", path)
	return nil
}
