package main

import (
	"os"

	"github.com/hyprrice/hyprsandbox/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
