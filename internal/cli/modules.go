package cli

import (
	"fmt"

	"github.com/mitchellh/cli"

	"github.com/fleetnav/navserver/packet"
)

// ModulesCommand lists the backend module types the server can address.
type ModulesCommand struct {
	UI cli.Ui
}

// Help implements the cli.Command interface
func (c *ModulesCommand) Help() string {
	return `Usage: navserver modules

  List the backend module types.`
}

// Synopsis implements the cli.Command interface
func (c *ModulesCommand) Synopsis() string {
	return "List the backend module types"
}

// Run implements the cli.Command interface
func (c *ModulesCommand) Run(args []string) int {
	modules := []packet.ModuleType{
		packet.ModuleMap,
		packet.ModuleRoute,
		packet.ModuleGfx,
		packet.ModuleSMTP,
		packet.ModuleSMS,
		packet.ModuleTraffic,
		packet.ModuleUser,
	}

	rows := make([]string, len(modules)+1)
	rows[0] = "Type|Name"
	for i, m := range modules {
		rows[i+1] = fmt.Sprintf("%d|%s", uint8(m), m)
	}
	c.UI.Output(formatList(rows))
	return 0
}
