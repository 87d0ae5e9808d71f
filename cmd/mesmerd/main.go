// Package main is the entry point for the mesmerd session engine.
package main

import (
	"os"

	"github.com/mesmerkit/mesmerd/cmd/mesmerd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
