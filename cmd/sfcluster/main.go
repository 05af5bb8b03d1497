// Package main is the entry point for the sfcluster CLI.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "sfcluster: %v\n", err)
		os.Exit(1)
	}
}
