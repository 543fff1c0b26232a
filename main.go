// Package main is the entry point for the fprobe flow exporter.
package main

import (
	"fmt"
	"os"

	"github.com/flowprobe/fprobe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
