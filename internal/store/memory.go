package store

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of [Store].
//
// Samples live in a sync.Map keyed by metric name plus a canonical label
// fingerprint. Each write installs a fresh immutable *Sample, so a
// replacement is atomic per key and readers never see a half-updated
// sample. Writes to distinct keys do not contend on a shared lock.
type MemoryStore struct {
	samples sync.Map // key string -> *Sample
}

// NewMemoryStore creates an empty [MemoryStore], immediately ready for
// use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Set stores the latest value for (name, labels), replacing any prior
// sample for that key.
func (m *MemoryStore) Set(name string, labels map[string]string, value float64, at time.Time) {
	s := &Sample{
		Name:      name,
		Labels:    copyLabels(labels),
		Value:     value,
		UpdatedAt: at,
	}
	m.samples.Store(name+"\x00"+fingerprint(labels), s)
}

// SetInfo stores a label-only series keyed by (name, keyLabels) with the
// info labels merged in and a fixed value of 1.
func (m *MemoryStore) SetInfo(name string, keyLabels, infoLabels map[string]string, at time.Time) {
	merged := copyLabels(keyLabels)
	for k, v := range infoLabels {
		merged[k] = v
	}
	s := &Sample{
		Name:      name,
		Labels:    merged,
		Value:     1,
		UpdatedAt: at,
	}
	m.samples.Store(name+"\x00"+fingerprint(keyLabels), s)
}

// Snapshot returns a sorted copy of all current samples.
func (m *MemoryStore) Snapshot() []Sample {
	var out []Sample
	m.samples.Range(func(_, v any) bool {
		s := v.(*Sample)
		out = append(out, Sample{
			Name:      s.Name,
			Labels:    copyLabels(s.Labels),
			Value:     s.Value,
			UpdatedAt: s.UpdatedAt,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return fingerprint(out[i].Labels) < fingerprint(out[j].Labels)
	})
	return out
}

// fingerprint renders a label set in a canonical order so equal label
// sets always map to the same key.
func fingerprint(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	cp := make(map[string]string, len(labels))
	for k, v := range labels {
		cp[k] = v
	}
	return cp
}
