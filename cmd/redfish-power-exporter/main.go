// Package main is the entry point for the redfish-power-exporter CLI.
//
// Usage:
//
//	redfish-power-exporter serve -c config.yaml    # Start the exporter
//	redfish-power-exporter validate -c config.yaml # Validate configuration
//	redfish-power-exporter version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "redfish-power-exporter",
	Short: "Prometheus exporter for Redfish power telemetry",
	Long: `redfish-power-exporter polls power-supply telemetry (voltage, current,
wattage) from Redfish management controllers and exposes it as Prometheus
metrics.

Quick start:
  1. Create a config file (config.yaml)
  2. Run: redfish-power-exporter serve -c config.yaml
  3. Scrape http://localhost:8000/metrics

Example config:
  port: 8000
  interval: 10s
  username: admin
  password: ${BMC_PASSWORD}
  verify_ssl: false
  hosts:
    - bmc1.example.com
    - fqdn: bmc2.example.com
      chassis: ["1", "2"]
      group: rack42`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
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
	Long:  `Print the version, commit hash, and build date of this binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("redfish-power-exporter %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
