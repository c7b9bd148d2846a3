// Package main provides the meeshy CLI tool.
//
// Usage:
//
//	meeshy [flags] <command> [args]
//
// Commands:
//
//	worker  - Run the audio-translation worker daemon
//	task    - Push tasks to a worker and wait for results
//	monitor - Watch a worker's result stream live
//	config  - Configuration management
//
// Configuration:
//
//	The CLI stores configuration in ~/.meeshy/meeshy/
//	Use 'meeshy config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/isopen-io/meeshy-sub000/cmd/meeshy/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
