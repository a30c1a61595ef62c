package main

import (
	"os"

	"github.com/majorcontext/portage/cmd/portage/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
