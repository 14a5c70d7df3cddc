// Package main is the entry point for the warden CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"warden/internal/cli"
	"warden/internal/isolation"
)

func main() {
	// Isolated tool calls re-exec this binary; serve them before any CLI
	// parsing happens.
	if isolation.IsWorker() {
		os.Exit(cli.ServeWorker())
	}

	if err := cli.Execute(); err != nil {
		var exitErr *cli.ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
