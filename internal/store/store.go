// Package store holds the latest metric observation per key for the
// exposition side to read.
package store

import "time"

// Sample is one stored observation: a metric name, its label set, the
// most recent value, and when it was written.
type Sample struct {
	Name      string
	Labels    map[string]string
	Value     float64
	UpdatedAt time.Time
}

// Store is the process-wide mapping from (metric name, label set) to the
// latest value.
//
// Implementations must be safe for concurrent writers on different keys
// and for concurrent writers on the same key (last write wins), and
// readers must never observe a partially written sample. No global
// consistency across keys is promised: one snapshot may mix values from
// different poll cycles.
type Store interface {
	// Set upserts the sample for (name, labels). The labels map is
	// copied; the caller may reuse it.
	Set(name string, labels map[string]string, value float64, at time.Time)

	// SetInfo upserts a label-only informational series. The sample is
	// keyed by (name, keyLabels) alone, so a host whose info labels
	// change replaces its previous series instead of accumulating one
	// series per firmware version. The stored sample carries both label
	// sets merged and a fixed value of 1.
	SetInfo(name string, keyLabels, infoLabels map[string]string, at time.Time)

	// Snapshot returns all current samples ordered by metric name and
	// label fingerprint. The result is a copy and stays stable between
	// writes.
	Snapshot() []Sample
}
