// Package main is the entry point for the opstray CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opstray-io/opstray/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
