// Package main is the entry point for the mk2 CLI.
package main

import (
	"os"

	"github.com/murphys7017/mk2/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
