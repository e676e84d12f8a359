package cli

import (
	"fmt"

	"github.com/mitchellh/cli"
)

// Version is set at build time via -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = ""
)

// VersionCommand prints the navserver version.
type VersionCommand struct {
	UI cli.Ui
}

// Help implements the cli.Command interface
func (c *VersionCommand) Help() string {
	return `Usage: navserver version

  Print the navserver version.`
}

// Synopsis implements the cli.Command interface
func (c *VersionCommand) Synopsis() string {
	return "Print the navserver version"
}

// Run implements the cli.Command interface
func (c *VersionCommand) Run(args []string) int {
	version := Version
	if GitCommit != "" {
		version = fmt.Sprintf("%s (%s)", Version, GitCommit)
	}
	c.UI.Output(version)
	return 0
}
