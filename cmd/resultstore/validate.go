package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/resultstore/config"
)

// validateCmd validates a config file without starting anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a resultstore configuration file without polling anything.

This command parses the YAML or TOML, expands environment variables,
validates all fields and compiles every extractor. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  resultstore validate -c config.yaml
  resultstore validate --config /etc/resultstore/config.toml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	entries, err := config.Entries(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	retrying := 0
	for _, e := range entries {
		if e.RetryDelay > 0 {
			retrying++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:            %d\n", cfg.Port)
	fmt.Fprintf(out, "  Poll interval:   %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  Max concurrency: %d\n", cfg.MaxConcurrency)
	fmt.Fprintf(out, "  Sources:         %d (%d with retries)\n", len(entries), retrying)

	return nil
}
