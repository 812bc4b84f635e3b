package internal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records loader and writer activity for one process. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	fetches    *prometheus.CounterVec
	cacheHits  prometheus.Counter
	absent     *prometheus.CounterVec
	sections   *prometheus.CounterVec
	conversion prometheus.Histogram
}

// NewMetrics builds a metrics set on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alyx2nwb_dataset_fetch_total",
			Help: "Remote dataset fetches by result.",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alyx2nwb_dataset_cache_hits_total",
			Help: "Dataset loads served from the session cache.",
		}),
		absent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alyx2nwb_dataset_absent_total",
			Help: "Dataset loads that resolved to an absent value, by kind.",
		}, []string{"kind"}),
		sections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alyx2nwb_section_writes_total",
			Help: "Section writers run, by section and result.",
		}, []string{"section", "result"}),
		conversion: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alyx2nwb_conversion_seconds",
			Help:    "Wall time of a full session conversion.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.registry.MustRegister(m.fetches, m.cacheHits, m.absent, m.sections, m.conversion)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch counts one remote fetch
func (m *Metrics) ObserveFetch(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "success"
	}
	m.fetches.WithLabelValues(result).Inc()
}

// ObserveCacheHit counts one memoized load
func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// ObserveAbsent counts one absent load result
func (m *Metrics) ObserveAbsent(kind string) {
	if m == nil {
		return
	}
	m.absent.WithLabelValues(kind).Inc()
}

// ObserveSection counts one section writer run
func (m *Metrics) ObserveSection(section string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.sections.WithLabelValues(section, result).Inc()
}

// ObserveConversion records the duration of one session conversion
func (m *Metrics) ObserveConversion(d time.Duration) {
	if m == nil {
		return
	}
	m.conversion.Observe(d.Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
