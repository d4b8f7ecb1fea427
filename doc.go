// Package exporter polls power telemetry from a fleet of Redfish
// management controllers and republishes it as Prometheus metrics.
//
// The exporter fans out one bounded poll task per host on a fixed
// interval. Hosts are isolated from each other: a slow, unreachable, or
// misbehaving controller cannot delay the other hosts or the scrape
// endpoint, and the last known good values for a host keep being served
// while it is down. A per-host circuit breaker stops hammering dead
// hosts, probing them at a reduced cadence until they recover.
//
// # Quick start
//
//	h, _ := exporter.NewHost("bmc1.example.com", "admin", "secret")
//	ex, _ := exporter.New(exporter.WithHost(h))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	ex.Start(ctx) // blocks until context cancelled
//
// Most deployments run the bundled CLI instead, which builds the same
// options from a YAML file:
//
//	redfish-power-exporter serve -c config.yaml
package exporter
