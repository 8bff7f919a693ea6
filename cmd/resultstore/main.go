// Package main is the entry point for the resultstore CLI.
//
// The binary polls the HTTP sources listed in a YAML or TOML file, keeping
// one result store per source, and either serves the stores over HTTP or
// prints their transitions to the terminal.
//
// Usage:
//
//	resultstore serve -c config.yaml    # Serve results over REST and SSE
//	resultstore watch -c config.yaml    # Print transitions, reload on change
//	resultstore validate -c config.yaml # Validate configuration
//	resultstore version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "resultstore",
	Short: "Poll HTTP sources into reactive result stores",
	Long: `resultstore polls HTTP sources at configurable intervals. Each source
owns a result store that tracks whether it is loading, refreshing, retrying
or failed, alongside counters of invocations, interrupts and failures.

Quick start:
  1. Create a config file (resultstore.yaml)
  2. Run: resultstore serve -c resultstore.yaml
  3. curl http://localhost:8080/api/results

Example config:
  port: 8080
  poll_interval: 10s
  retry_delay: 5s
  sources:
    - name: GitHub API
      url: https://api.github.com
      extractor: json:status`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this resultstore binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "resultstore %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
