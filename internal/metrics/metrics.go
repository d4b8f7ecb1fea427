// Package metrics bridges the in-memory sample store to the Prometheus
// exposition format and records the exporter's own request latency and
// error counters.
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oobmetrics/redfish-power-exporter/internal/redfish"
	"github.com/oobmetrics/redfish-power-exporter/internal/store"
)

// Metric names are part of the exporter's public surface; dashboards and
// alerts depend on them.
const (
	MetricUp         = "redfish_up"
	MetricPSUVolts   = "redfish_psu_line_input_voltage_volts"
	MetricPSUWatts   = "redfish_psu_power_input_watts"
	MetricPSUAmps    = "redfish_psu_input_amps"
	MetricSystemInfo = "redfish_system_info"
	MetricLatency    = "redfish_request_latency_seconds"
	MetricErrors     = "redfish_errors_total"
)

var helpText = map[string]string{
	MetricUp:         "Host up/down",
	MetricPSUVolts:   "Line input voltage per PSU",
	MetricPSUWatts:   "Power input watts per PSU",
	MetricPSUAmps:    "Current draw in amps per PSU",
	MetricSystemInfo: "System information (manufacturer, model, serial, Redfish version)",
}

func helpFor(name string) string {
	if h, ok := helpText[name]; ok {
		return h
	}
	return name
}

// storeCollector renders the sample store as constant gauges on every
// scrape. Being snapshot-driven, a scrape never blocks the poll cycle.
type storeCollector struct {
	store store.Store
}

// Describe sends nothing, registering the collector as unchecked: the
// set of series depends entirely on what hosts have reported so far.
func (c *storeCollector) Describe(chan<- *prometheus.Desc) {}

// Collect emits one gauge per stored sample.
func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.store.Snapshot() {
		keys := make([]string, 0, len(s.Labels))
		for k := range s.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]string, len(keys))
		for i, k := range keys {
			vals[i] = s.Labels[k]
		}

		desc := prometheus.NewDesc(s.Name, helpFor(s.Name), keys, nil)
		m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, s.Value, vals...)
		if err != nil {
			continue
		}
		ch <- m
	}
}

// Recorder is the sink the poll cycle writes observations into.
//
// Gauge-shaped values (availability, PSU readings, identity) go through
// the store so the latest value per key survives between cycles; latency
// and error counts are cumulative and recorded on native Prometheus
// vectors directly.
type Recorder struct {
	store   store.Store
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
	now     func() time.Time
}

// NewRecorder wires a [Recorder] and its collectors into reg.
func NewRecorder(st store.Store, reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		store: st,
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricLatency,
			Help:    "Time for one Redfish poll per host",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricErrors,
			Help: "Total Redfish poll errors",
		}, []string{"host", "error"}),
		now: time.Now,
	}
	reg.MustRegister(r.latency, r.errors, &storeCollector{store: st})
	return r
}

// SetAvailability records the host's up/down flag. Written every cycle
// for every host, including hosts skipped by an open breaker.
func (r *Recorder) SetAvailability(host, group string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	r.store.Set(MetricUp, map[string]string{"host": host, "group": group}, v, r.now())
}

// RecordReading stores the gauges for one PSU. Fields the controller did
// not report are left untouched, preserving the last known value.
func (r *Recorder) RecordReading(host, group string, rd redfish.Reading) {
	labels := map[string]string{"host": host, "psu_serial": rd.PSUSerial, "group": group}
	at := r.now()
	if rd.Volts != nil {
		r.store.Set(MetricPSUVolts, labels, *rd.Volts, at)
	}
	if rd.Watts != nil {
		r.store.Set(MetricPSUWatts, labels, *rd.Watts, at)
	}
	if rd.Amps != nil {
		r.store.Set(MetricPSUAmps, labels, *rd.Amps, at)
	}
}

// RecordIdentity stores the host's label-only identity series.
func (r *Recorder) RecordIdentity(host, group string, id redfish.Identity) {
	r.store.SetInfo(MetricSystemInfo,
		map[string]string{"host": host, "group": group},
		map[string]string{
			"manufacturer":    id.Manufacturer,
			"model":           id.Model,
			"serial_number":   id.SerialNumber,
			"redfish_version": id.RedfishVersion,
		},
		r.now())
}

// ObserveLatency records how long one host's poll took.
func (r *Recorder) ObserveLatency(host string, d time.Duration) {
	r.latency.WithLabelValues(host).Observe(d.Seconds())
}

// CountError increments the error counter for a host and error kind.
func (r *Recorder) CountError(host string, kind redfish.Kind) {
	r.errors.WithLabelValues(host, kind.String()).Inc()
}
