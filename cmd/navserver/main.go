package main

import (
	"os"

	"github.com/fleetnav/navserver/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
