package cli

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"

	"github.com/fleetnav/navserver/server"
)

// ServerCommand runs the navigation server until interrupted. Without a
// backend pool to connect to it serves against the in-process simulator.
type ServerCommand struct {
	*Meta

	srv *server.Server
}

// Help implements the cli.Command interface
func (c *ServerCommand) Help() string {
	return `Usage: navserver server [options]

  Run the navigation server.

  Options:

    -config <path>       Path to the TOML configuration file
    -log-level <level>   Log verbosity (trace|debug|info|warn|error)`
}

// Synopsis implements the cli.Command interface
func (c *ServerCommand) Synopsis() string {
	return "Run the navigation server"
}

// Run implements the cli.Command interface
func (c *ServerCommand) Run(args []string) int {
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	configFile := flags.String("config", "", "path to the configuration file")
	logLevel := flags.String("log-level", "", "log verbosity")
	if err := flags.Parse(args); err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	config := server.DefaultConfig()
	if *configFile != "" {
		loaded, err := server.LoadConfig(*configFile)
		if err != nil {
			c.UI.Error(err.Error())
			return 1
		}
		config = loaded
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}
	setupLogger(config.LogLevel)

	c.srv = server.New(config)
	defer c.srv.Stop()

	log.Info("Navigation server started", "workers", config.Workers)
	return c.handleSignals()
}

func (c *ServerCommand) handleSignals() int {
	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-signalCh
	c.UI.Output(`Caught signal: ` + sig.String())
	c.UI.Output("Gracefully shutting down server...")
	return 0
}

func setupLogger(level string) {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(
		os.Stderr, logLevelFor(level), os.Getenv("TERM") != "dumb")))
}

func logLevelFor(level string) slog.Level {
	switch level {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
