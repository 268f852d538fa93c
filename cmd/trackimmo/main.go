// Package main is the entry point for the trackimmo CLI.
package main

import (
	"fmt"
	"os"

	"github.com/evcraddock/trackimmo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
