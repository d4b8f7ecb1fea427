package exporter

import (
	"fmt"
	"log/slog"
	"time"
)

// exporterConfig holds mutable state during [Exporter] construction.
type exporterConfig struct {
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

// Option configures an [Exporter] during construction.
//
// Options return an error if validation fails. Built-in options:
// [WithHost], [WithHosts], [WithPollInterval], [WithHostTimeout],
// [WithPort], [WithBreaker], [WithRetry], [WithDeprecatedWarnings],
// [WithLogger].
type Option func(*exporterConfig) error

// WithHost adds a single [Host] to the polling list. Can be called
// multiple times; at least one host must be configured.
func WithHost(h Host) Option {
	return func(cfg *exporterConfig) error {
		cfg.hosts = append(cfg.hosts, h)
		return nil
	}
}

// WithHosts adds multiple [Host] values to the polling list.
func WithHosts(hosts ...Host) Option {
	return func(cfg *exporterConfig) error {
		cfg.hosts = append(cfg.hosts, hosts...)
		return nil
	}
}

// WithPollInterval sets the time between poll cycles. Defaults to 10
// seconds. Returns an error for intervals below one second, which would
// hammer the controllers.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *exporterConfig) error {
		if d < time.Second {
			return fmt.Errorf("poll interval must be at least 1s, got %s", d)
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithHostTimeout bounds one host's entire poll, retries included.
// Defaults to 10 seconds.
func WithHostTimeout(d time.Duration) Option {
	return func(cfg *exporterConfig) error {
		if d < time.Second {
			return fmt.Errorf("host timeout must be at least 1s, got %s", d)
		}
		cfg.hostTimeout = d
		return nil
	}
}

// WithPort sets the HTTP port for the metrics endpoint. Defaults to 8000.
func WithPort(port int) Option {
	return func(cfg *exporterConfig) error {
		cfg.port = port
		return nil
	}
}

// WithBreaker tunes the per-host circuit breaker: threshold consecutive
// failures open a host's breaker, after which one probe poll is issued
// every probeCycles-th cycle until the host recovers. Defaults: 3 and 12.
func WithBreaker(threshold, probeCycles int) Option {
	return func(cfg *exporterConfig) error {
		if threshold < 1 {
			return fmt.Errorf("breaker threshold must be at least 1, got %d", threshold)
		}
		if probeCycles < 1 {
			return fmt.Errorf("probe cycles must be at least 1, got %d", probeCycles)
		}
		cfg.breakerThreshold = threshold
		cfg.probeCycles = probeCycles
		return nil
	}
}

// WithRetry tunes the per-poll retry policy: attempts is the total
// number of tries per poll, backoff the base inter-attempt delay
// (attempt n waits n × backoff). Defaults: 3 attempts, 2s backoff.
// Only transient network failures are retried.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(cfg *exporterConfig) error {
		if attempts < 1 {
			return fmt.Errorf("retry attempts must be at least 1, got %d", attempts)
		}
		if backoff < 0 {
			return fmt.Errorf("retry backoff must not be negative, got %s", backoff)
		}
		cfg.retryAttempts = attempts
		cfg.retryBackoff = backoff
		return nil
	}
}

// WithDeprecatedWarnings enables log warnings for hosts that still
// expose the pre-2020 Power resource instead of PowerSubsystem.
func WithDeprecatedWarnings(enabled bool) Option {
	return func(cfg *exporterConfig) error {
		cfg.warnDeprecated = enabled
		return nil
	}
}

// WithLogger sets the logger used by all components. Defaults to
// [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *exporterConfig) error {
		cfg.logger = logger
		return nil
	}
}
