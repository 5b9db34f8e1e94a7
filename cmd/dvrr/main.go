// Package main is the entry point for the dvrr application.
package main

import (
	"os"

	"github.com/jmylchreest/dvrr/cmd/dvrr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
