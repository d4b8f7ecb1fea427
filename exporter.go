package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oobmetrics/redfish-power-exporter/internal/health"
	"github.com/oobmetrics/redfish-power-exporter/internal/metrics"
	"github.com/oobmetrics/redfish-power-exporter/internal/poller"
	"github.com/oobmetrics/redfish-power-exporter/internal/redfish"
	"github.com/oobmetrics/redfish-power-exporter/internal/retry"
	"github.com/oobmetrics/redfish-power-exporter/internal/server"
	"github.com/oobmetrics/redfish-power-exporter/internal/store"
)

const (
	defaultPollInterval     = 10 * time.Second
	defaultHostTimeout      = 10 * time.Second
	defaultPort             = 8000
	defaultBreakerThreshold = 3
	defaultProbeCycles      = 12
	defaultRetryAttempts    = 3
	defaultRetryBackoff     = 2 * time.Second
)

// Exporter is the orchestrator: it owns the metric store, the Redfish
// client, the breaker state, the poll scheduler, and the HTTP server,
// and wires them together in [Exporter.Start].
//
// Instances are independent; nothing is shared through package-level
// state, so tests can construct isolated exporters side by side.
type Exporter struct {
	hosts            []Host
	pollInterval     time.Duration
	hostTimeout      time.Duration
	port             int
	breakerThreshold int
	probeCycles      int
	retryAttempts    int
	retryBackoff     time.Duration
	warnDeprecated   bool
	logger           *slog.Logger
}

// New creates an [Exporter] from the given options.
//
// At least one host must be configured via [WithHost] or [WithHosts];
// an empty host list is the one misconfiguration reported upward as a
// startup failure rather than a per-host metric. Host FQDNs must be
// unique. All other options have defaults.
func New(opts ...Option) (*Exporter, error) {
	cfg := &exporterConfig{
		pollInterval:     defaultPollInterval,
		hostTimeout:      defaultHostTimeout,
		port:             defaultPort,
		breakerThreshold: defaultBreakerThreshold,
		probeCycles:      defaultProbeCycles,
		retryAttempts:    defaultRetryAttempts,
		retryBackoff:     defaultRetryBackoff,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.hosts) == 0 {
		return nil, errors.New("at least one host is required")
	}
	seen := make(map[string]bool, len(cfg.hosts))
	for _, h := range cfg.hosts {
		if seen[h.fqdn] {
			return nil, fmt.Errorf("duplicate host: %q", h.fqdn)
		}
		seen[h.fqdn] = true
	}
	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.port)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Exporter{
		hosts:            cfg.hosts,
		pollInterval:     cfg.pollInterval,
		hostTimeout:      cfg.hostTimeout,
		port:             cfg.port,
		breakerThreshold: cfg.breakerThreshold,
		probeCycles:      cfg.probeCycles,
		retryAttempts:    cfg.retryAttempts,
		retryBackoff:     cfg.retryBackoff,
		warnDeprecated:   cfg.warnDeprecated,
		logger:           logger,
	}, nil
}

// Start polls hosts and serves metrics until ctx is cancelled.
//
// Start blocks. On cancellation it stops the scheduler, waits for
// in-flight polls, logs out all live Redfish sessions, and drains the
// HTTP server. Returns an error only if the HTTP server fails to start.
func (e *Exporter) Start(ctx context.Context) error {
	e.logger.Info("exporter starting",
		"hosts", len(e.hosts),
		"poll_interval", e.pollInterval.String(),
		"port", e.port,
	)

	if ctx.Err() != nil {
		return nil
	}

	targets := make([]redfish.Target, len(e.hosts))
	fqdns := make([]string, len(e.hosts))
	for i, h := range e.hosts {
		targets[i] = h.target()
		fqdns[i] = h.fqdn
	}

	sampleStore := store.NewMemoryStore()
	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(sampleStore, registry)
	client := redfish.NewClient(e.logger, e.warnDeprecated)
	tracker := health.NewTracker(fqdns, e.breakerThreshold, e.probeCycles)

	scheduler := poller.NewScheduler(poller.Config{
		Targets:     targets,
		Interval:    e.pollInterval,
		HostTimeout: e.hostTimeout,
		Retry: retry.Policy{
			MaxAttempts: e.retryAttempts,
			Backoff:     e.retryBackoff,
		},
	}, client, tracker, recorder, e.logger)
	scheduler.Start(ctx)

	cleanup := func() {
		scheduler.Stop()
		client.Close()
	}

	httpServer := server.NewServer(registry, e.port, e.logger)
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	cleanup()
	e.logger.Info("exporter stopped")
	return nil
}

// Hosts returns a copy of the configured hosts.
func (e *Exporter) Hosts() []Host {
	cp := make([]Host, len(e.hosts))
	copy(cp, e.hosts)
	return cp
}

// Port returns the configured HTTP port.
func (e *Exporter) Port() int {
	return e.port
}

// PollInterval returns the configured time between poll cycles.
func (e *Exporter) PollInterval() time.Duration {
	return e.pollInterval
}
