package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	exporter "github.com/oobmetrics/redfish-power-exporter"
	"github.com/oobmetrics/redfish-power-exporter/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// serveCmd starts the exporter.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the exporter",
	Long: `Start the Redfish power exporter.

The exporter will:
  - Load configuration from the specified YAML file
  - Start polling all configured hosts
  - Serve Prometheus metrics on the configured port at /metrics

The exporter runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  redfish-power-exporter serve -c config.yaml
  redfish-power-exporter serve -c config.yaml --port 9100 --interval 30s`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().Int("port", 0, "override port from config file")
	serveCmd.Flags().Duration("interval", 0, "override poll interval from config file")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// flag overrides
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if interval, _ := cmd.Flags().GetDuration("interval"); interval != 0 {
		cfg.Interval = config.Duration(interval)
	}

	logger.Info("config loaded",
		"hosts", len(cfg.Hosts),
		"port", cfg.Port,
		"interval", cfg.Interval.Duration().String(),
	)

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}
	opts = append(opts, exporter.WithLogger(logger))

	ex, err := exporter.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- ex.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("exporter error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("exporter error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
