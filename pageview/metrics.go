package pageview

import "time"

// Metrics receives page store observations.
//
// A nil Metrics is valid everywhere and results in zero overhead.
// See pageview/metrics/prometheus for a Prometheus-backed implementation.
type Metrics interface {
	// ObserveLookup records a cache lookup and whether it hit.
	ObserveLookup(hit bool)

	// ObserveLoad records a page load (a miss served by the loader).
	ObserveLoad(bytes int, duration time.Duration, err error)

	// ObserveEviction records an evicted page and its stored size.
	ObserveEviction(bytes int)

	// RecordSize records the current number of pages and stored bytes.
	RecordSize(pages int, bytes int64)
}

func observeLookup(m Metrics, hit bool) {
	if m != nil {
		m.ObserveLookup(hit)
	}
}

func observeLoad(m Metrics, bytes int, duration time.Duration, err error) {
	if m != nil {
		m.ObserveLoad(bytes, duration, err)
	}
}

func observeEviction(m Metrics, bytes int) {
	if m != nil {
		m.ObserveEviction(bytes)
	}
}

func recordSize(m Metrics, pages int, bytes int64) {
	if m != nil {
		m.RecordSize(pages, bytes)
	}
}
