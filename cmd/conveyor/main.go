package main

import (
	"os"

	"github.com/conveyor-forge/conveyor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
