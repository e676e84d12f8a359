package cli

import (
	"flag"
	"fmt"

	"github.com/mitchellh/cli"

	"github.com/fleetnav/navserver/server"
	"github.com/fleetnav/navserver/template"
)

// RouteCommand is the parent of the route subcommands.
type RouteCommand struct {
	UI cli.Ui
}

// Help implements the cli.Command interface
func (c *RouteCommand) Help() string {
	return `Usage: navserver route <subcommand>

  This command groups the route operations.

  Expand a stored route into turn descriptions:

    $ navserver route expand -route 42 -created 1700000000

  Compose and send a route notification:

    $ navserver route message -route 42 -created 1700000000 -to driver@example.com`
}

// Synopsis implements the cli.Command interface
func (c *RouteCommand) Synopsis() string {
	return "Group of route operations"
}

// Run implements the cli.Command interface
func (c *RouteCommand) Run(args []string) int {
	return cli.RunResultHelp
}

// withServer runs fn against a server over the in-process simulator.
func withServer(meta *Meta, configFile string, fn func(srv *server.Server) error) int {
	config := server.DefaultConfig()
	if configFile != "" {
		loaded, err := server.LoadConfig(configFile)
		if err != nil {
			meta.UI.Error(err.Error())
			return 1
		}
		config = loaded
	}

	srv := server.New(config)
	defer srv.Stop()

	if err := fn(srv); err != nil {
		meta.UI.Error(err.Error())
		return 1
	}
	return 0
}

// RouteExpandCommand prints a stored route's turn-by-turn items.
type RouteExpandCommand struct {
	*Meta
}

// Help implements the cli.Command interface
func (c *RouteExpandCommand) Help() string {
	return `Usage: navserver route expand -route <id> -created <unix-time>

  Expand a stored route into its turn descriptions.`
}

// Synopsis implements the cli.Command interface
func (c *RouteExpandCommand) Synopsis() string {
	return "Expand a stored route"
}

// Run implements the cli.Command interface
func (c *RouteExpandCommand) Run(args []string) int {
	flags := flag.NewFlagSet("route expand", flag.ContinueOnError)
	routeID := flags.Uint("route", 0, "stored route ID")
	created := flags.Uint("created", 0, "route creation time")
	configFile := flags.String("config", "", "path to the configuration file")
	if err := flags.Parse(args); err != nil {
		c.UI.Error(err.Error())
		return 1
	}
	if *routeID == 0 {
		c.UI.Error("the -route flag is required")
		return 1
	}

	return withServer(c.Meta, *configFile, func(srv *server.Server) error {
		turns, err := srv.ExpandRoute(uint32(*routeID), uint32(*created))
		if err != nil {
			return err
		}

		rows := make([]string, len(turns)+1)
		rows[0] = "Turn|Description"
		for i, turn := range turns {
			rows[i+1] = fmt.Sprintf("%d|%s", i+1, turn)
		}
		c.UI.Output(formatList(rows))
		return nil
	})
}

// RouteMessageCommand composes and sends one route notification.
type RouteMessageCommand struct {
	*Meta
}

// Help implements the cli.Command interface
func (c *RouteMessageCommand) Help() string {
	return `Usage: navserver route message [options]

  Compose a route notification and mail it part by part.

  Options:

    -route <id>          Stored route ID (required)
    -created <time>      Route creation time
    -to <address>        Recipient address (required unless -dry-run)
    -content <type>      Message content type
    -images              Render and embed turn images
    -dry-run             Print the composed message instead of mailing
    -config <path>       Path to the TOML configuration file`
}

// Synopsis implements the cli.Command interface
func (c *RouteMessageCommand) Synopsis() string {
	return "Compose and send a route notification"
}

// Run implements the cli.Command interface
func (c *RouteMessageCommand) Run(args []string) int {
	flags := flag.NewFlagSet("route message", flag.ContinueOnError)
	routeID := flags.Uint("route", 0, "stored route ID")
	created := flags.Uint("created", 0, "route creation time")
	to := flags.String("to", "", "recipient address")
	content := flags.String("content", "", "message content type")
	images := flags.Bool("images", false, "render and embed turn images")
	dryRun := flags.Bool("dry-run", false, "compose without mailing")
	configFile := flags.String("config", "", "path to the configuration file")
	if err := flags.Parse(args); err != nil {
		c.UI.Error(err.Error())
		return 1
	}
	if *routeID == 0 {
		c.UI.Error("the -route flag is required")
		return 1
	}
	if *to == "" && !*dryRun {
		c.UI.Error("the -to flag is required unless -dry-run is set")
		return 1
	}

	return withServer(c.Meta, *configFile, func(srv *server.Server) error {
		body, err := srv.RouteMessage(server.RouteMessageOptions{
			To:              *to,
			Content:         template.ContentType(*content),
			RouteID:         uint32(*routeID),
			RouteCreateTime: uint32(*created),
			MakeImages:      *images,
			DryRun:          *dryRun,
		})
		if err != nil {
			return err
		}
		if *dryRun {
			c.UI.Output(string(body))
		} else {
			c.UI.Output("Route notification sent")
		}
		return nil
	})
}
