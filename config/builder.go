package config

import (
	"fmt"

	exporter "github.com/oobmetrics/redfish-power-exporter"
)

// BuildHosts converts a validated [Config] into exporter hosts, applying
// global defaults to host entries that do not override them.
func BuildHosts(cfg *Config) ([]exporter.Host, error) {
	hosts := make([]exporter.Host, 0, len(cfg.Hosts))

	for i, entry := range cfg.Hosts {
		username := entry.Username
		if username == "" {
			username = cfg.Username
		}
		password := entry.Password
		if password == "" {
			password = cfg.Password
		}
		chassis := entry.Chassis
		if len(chassis) == 0 {
			chassis = cfg.Chassis
		}
		group := entry.Group
		if group == "" {
			group = cfg.Group
		}

		verify := true
		if cfg.VerifySSL != nil {
			verify = *cfg.VerifySSL
		}
		if entry.VerifySSL != nil {
			verify = *entry.VerifySSL
		}

		opts := []exporter.HostOption{
			exporter.WithChassis(chassis...),
			exporter.WithGroup(group),
		}
		if !verify {
			opts = append(opts, exporter.WithInsecureTLS())
		}

		h, err := exporter.NewHost(entry.FQDN, username, password, opts...)
		if err != nil {
			return nil, fmt.Errorf("hosts[%d]: %w", i, err)
		}
		hosts = append(hosts, h)
	}

	return hosts, nil
}

// BuildOptions converts a validated [Config] into the full option list
// for [exporter.New].
func BuildOptions(cfg *Config) ([]exporter.Option, error) {
	hosts, err := BuildHosts(cfg)
	if err != nil {
		return nil, err
	}

	return []exporter.Option{
		exporter.WithHosts(hosts...),
		exporter.WithPort(cfg.Port),
		exporter.WithPollInterval(cfg.Interval.Duration()),
		exporter.WithHostTimeout(cfg.Timeout.Duration()),
		exporter.WithBreaker(cfg.FailureThreshold, cfg.ProbeCycles),
		exporter.WithRetry(cfg.MaxRetries, cfg.Backoff.Duration()),
		exporter.WithDeprecatedWarnings(cfg.ShowDeprecated),
	}, nil
}
