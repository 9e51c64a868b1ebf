// Package main is the entry point for the pandit HTTP response inspector.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/pandit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
