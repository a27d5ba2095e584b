// Package main is the entry point for the Tessera CLI.
package main

import (
	"os"

	"github.com/mrz1836/tessera/internal/cli"
)

// Set at build time with -ldflags "-X main.version=...".
//
//nolint:gochecknoglobals // ldflags targets
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	cli.SetBuildInfo(version, commit, date)
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
