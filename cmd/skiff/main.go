// Package main is the entry point for the skiff CLI.
//
// skiff provisions and manages batch compute fleets on Azure: pool
// lifecycle, shared data volume mounts, distributed bootstrap and
// credential storage.
//
// For detailed usage information, run:
//
//	skiff --help
package main

import (
	"fmt"
	"os"

	"github.com/skiffhq/skiff/cmd/skiff/commands"
	"github.com/skiffhq/skiff/cmd/skiff/handlers"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	handlers.SetVersion(version)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
