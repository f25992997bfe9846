// Package main is the entry point for the netclaw CLI.
package main

import (
	"os"

	"github.com/KafClaw/NetClaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
