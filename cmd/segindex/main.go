// Package main is the entry point of segindex.
package main

import (
	"os"

	"mediaindex/cmd/segindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
