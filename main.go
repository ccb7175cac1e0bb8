// Package main provides the entry point for the mosaic command.
package main

import (
	"context"
	"fmt"
	"os"

	"frame-mosaic/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "mosaic:", err)
		os.Exit(1)
	}
}
