// Package main is the entry point for the vigil console client.
package main

import (
	"os"

	"vigil/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
