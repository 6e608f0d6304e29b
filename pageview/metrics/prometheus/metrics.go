// Package prometheus provides a Prometheus-backed pageview.Metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pithecene-io/pageview/pageview"
)

// storeMetrics is the Prometheus implementation of pageview.Metrics.
type storeMetrics struct {
	lookups      *prometheus.CounterVec
	loads        *prometheus.CounterVec
	loadDuration prometheus.Histogram
	loadBytes    prometheus.Histogram
	evictions    prometheus.Counter
	evictedBytes prometheus.Counter
	pages        prometheus.Gauge
	bytes        prometheus.Gauge
}

// New creates page store metrics registered with reg.
//
// Registration panics on duplicate collectors, so call New once per
// registerer. A nil reg registers nothing, which is useful in tests.
func New(reg prometheus.Registerer) pageview.Metrics {
	f := promauto.With(reg)

	return &storeMetrics{
		lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageview_cache_lookups_total",
				Help: "Total number of page cache lookups by result",
			},
			[]string{"result"}, // "hit", "miss"
		),
		loads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageview_page_loads_total",
				Help: "Total number of page loads from the backend by status",
			},
			[]string{"status"}, // "success", "error"
		),
		loadDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name: "pageview_page_load_duration_milliseconds",
				Help: "Duration of page loads in milliseconds",
				Buckets: []float64{
					1,    // 1ms - local
					5,    // 5ms
					10,   // 10ms
					25,   // 25ms - same-region object store
					50,   // 50ms
					100,  // 100ms
					250,  // 250ms
					500,  // 500ms - cross-region
					1000, // 1s
					5000, // 5s
				},
			},
		),
		loadBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name: "pageview_page_load_bytes",
				Help: "Distribution of loaded page sizes",
				Buckets: []float64{
					4096,     // 4KB
					65536,    // 64KB
					524288,   // 512KB
					1048576,  // 1MB
					2097152,  // 2MB - default page size
					8388608,  // 8MB
					33554432, // 32MB
				},
			},
		),
		evictions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pageview_cache_evictions_total",
				Help: "Total number of pages evicted from the cache",
			},
		),
		evictedBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pageview_cache_evicted_bytes_total",
				Help: "Total stored bytes evicted from the cache",
			},
		),
		pages: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pageview_cache_pages",
				Help: "Current number of cached pages",
			},
		),
		bytes: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pageview_cache_size_bytes",
				Help: "Current stored bytes in the cache",
			},
		),
	}
}

func (m *storeMetrics) ObserveLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *storeMetrics) ObserveLoad(bytes int, duration time.Duration, err error) {
	if m == nil {
		return
	}

	m.loadDuration.Observe(duration.Seconds() * 1000)
	if err != nil {
		m.loads.WithLabelValues("error").Inc()
		return
	}
	m.loads.WithLabelValues("success").Inc()
	m.loadBytes.Observe(float64(bytes))
}

func (m *storeMetrics) ObserveEviction(bytes int) {
	if m == nil {
		return
	}

	m.evictions.Inc()
	m.evictedBytes.Add(float64(bytes))
}

func (m *storeMetrics) RecordSize(pages int, bytes int64) {
	if m == nil {
		return
	}

	m.pages.Set(float64(pages))
	m.bytes.Set(float64(bytes))
}
