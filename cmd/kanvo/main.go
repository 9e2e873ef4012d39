package main

import (
	"os"

	"github.com/priyankagnana/Kanvo/cmd/kanvo/commands"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.SetVersionInfo(version, commit)
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
