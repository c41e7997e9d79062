// Package main is the entry point for the batchsync command.
package main

import (
	"os"

	"github.com/Sternrassler/batchsync/cmd/batchsync/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
