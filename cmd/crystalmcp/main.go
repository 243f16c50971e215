// Package main provides the entry point for the crystalmcp CLI.
package main

import (
	"os"

	"github.com/crystalmcp/crystalmcp/cmd/crystalmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
