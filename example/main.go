package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	exporter "github.com/oobmetrics/redfish-power-exporter"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// start a mock BMC (see mock_bmc.go)
	bmc := StartMockBMC()
	defer bmc.Close()

	host, err := exporter.NewHost(
		strings.TrimPrefix(bmc.URL, "https://"),
		mockUsername, mockPassword,
		exporter.WithGroup("demo"),
		// the mock serves a self-signed certificate, like most real BMCs
		exporter.WithInsecureTLS(),
	)
	if err != nil {
		logger.Error("failed to build host", "error", err)
		os.Exit(1)
	}

	ex, err := exporter.New(
		exporter.WithHost(host),
		exporter.WithPort(8000),
		exporter.WithPollInterval(5*time.Second),
		exporter.WithHostTimeout(3*time.Second),
		exporter.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create exporter", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Redfish power exporter demo")
	fmt.Println()
	fmt.Println("  Mock BMC:  " + bmc.URL)
	fmt.Println("  Metrics:   http://localhost:8000/metrics")
	fmt.Println("  Liveness:  http://localhost:8000/healthz")
	fmt.Println()
	fmt.Println("  Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ex.Start(ctx); err != nil {
		logger.Error("exporter failed", "error", err)
		os.Exit(1)
	}
}
