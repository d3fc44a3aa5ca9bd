package main

import (
	"os"

	"github.com/faunavision/faunavision-go/cmd"
	"github.com/faunavision/faunavision-go/internal/buildinfo"
)

// Set by the linker: -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	rootCmd := cmd.RootCommand(buildinfo.NewContext(version, buildDate))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
