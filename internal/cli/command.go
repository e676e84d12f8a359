// Package cli implements the navserver command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
	"github.com/ryanuber/columnize"
)

// Run executes the CLI with the given arguments and returns the exit code.
func Run(args []string) int {
	commands := Commands()

	c := &cli.CLI{
		Name:     "navserver",
		Args:     args,
		Commands: commands,
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err.Error())
		return 1
	}
	return exitCode
}

// Commands returns the factories for all navserver subcommands.
func Commands() map[string]cli.CommandFactory {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	meta := &Meta{
		UI: ui,
	}
	return map[string]cli.CommandFactory{
		"server": func() (cli.Command, error) {
			return &ServerCommand{
				Meta: meta,
			}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{
				UI: ui,
			}, nil
		},
		"modules": func() (cli.Command, error) {
			return &ModulesCommand{
				UI: ui,
			}, nil
		},
		"route": func() (cli.Command, error) {
			return &RouteCommand{
				UI: ui,
			}, nil
		},
		"route expand": func() (cli.Command, error) {
			return &RouteExpandCommand{
				Meta: meta,
			}, nil
		},
		"route message": func() (cli.Command, error) {
			return &RouteMessageCommand{
				Meta: meta,
			}, nil
		},
	}
}

// Meta carries the options common to all subcommands.
type Meta struct {
	UI cli.Ui
}

func formatList(in []string) string {
	columnConf := columnize.DefaultConfig()
	columnConf.Empty = "<none>"
	return columnize.Format(in, columnConf)
}
