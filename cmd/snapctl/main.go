// Package main is the entry point for the snapops CLI.
// The CLI is the operator terminal tool for interacting with the snapops API.
package main

import (
	"os"

	"snapops/cmd/snapctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
