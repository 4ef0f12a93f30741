// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the backplane command-line interface.
package cli

import (
	"fmt"
	"os"
)

const (
	appName    = "backplane"
	appVersion = "0.1.0"
)

// Execute runs the CLI application
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		return runCommand(args)
	case "backends":
		return backendsCommand(args)
	case "verify":
		return verifyCommand(args)
	case "serve":
		return serveCommand(args)
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage()
	}
}

func printUsage() error {
	fmt.Printf(`%s - agent backplane

Usage:
  %s <command> [arguments]

Commands:
  run <task>        Dispatch a work order to the best-scoring backend
  backends          List configured backends and their capabilities
  verify <file>     Verify the hash of a sealed receipt
  serve             Start the REST + WebSocket API server
  version           Print version information
  help              Show this help message

Examples:
  %s run "Summarize the failing tests"
  %s run --order order.yaml
  %s run --require streaming --require tool_edit:native "Fix the bug"
  %s backends --task "Fix the bug"
  %s verify receipt.json
  %s verify --run 4f1c0c0a --config config.yaml
  %s serve --config config.yaml

`, appName, appName, appName, appName, appName, appName, appName, appName, appName)
	return nil
}
