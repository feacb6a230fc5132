package main

import (
	"os"

	"github.com/centrifugal/gocomet/internal/app"
	"github.com/centrifugal/gocomet/internal/cli"
)

func main() {
	root := app.Gocomet()
	root.AddCommand(
		cli.Version(),
		cli.CheckConfig(),
		cli.DefaultConfigCommand(),
		cli.Feed(),
		cli.Ping(),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
