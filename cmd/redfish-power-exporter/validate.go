package main

import (
	"fmt"

	"github.com/oobmetrics/redfish-power-exporter/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the exporter.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a configuration file without starting the exporter.

This command parses the YAML, expands environment variables, validates
all fields, and checks that every host resolves to usable credentials.
It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  redfish-power-exporter validate -c config.yaml`,
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

	// building the host list exercises the same checks serve performs
	hosts, err := config.BuildHosts(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:     %d\n", cfg.Port)
	fmt.Printf("  Interval: %s\n", cfg.Interval.Duration())
	fmt.Printf("  Timeout:  %s\n", cfg.Timeout.Duration())
	fmt.Printf("  Hosts:    %d\n", len(hosts))

	return nil
}
