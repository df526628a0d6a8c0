// Package metrics exposes Prometheus instrumentation for the search and
// write paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts the observable outcomes of the service's two hot paths.
type Collector struct {
	searches      *prometheus.CounterVec
	writes        *prometheus.CounterVec
	eventsDropped prometheus.Counter
	searchSeconds prometheus.Histogram
	writeSeconds  prometheus.Histogram
}

// NewCollector builds and registers the collector set on the given registry.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewCollector(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentdb",
			Name:      "searches_total",
			Help:      "Search requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentdb",
			Name:      "writes_total",
			Help:      "Write operations by kind, action, and outcome.",
		}, []string{"kind", "action", "outcome"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contentdb",
			Name:      "events_dropped_total",
			Help:      "Live events dropped because a subscriber was full.",
		}),
		searchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "contentdb",
			Name:      "search_duration_seconds",
			Help:      "Wall time of one search batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		writeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "contentdb",
			Name:      "write_duration_seconds",
			Help:      "Wall time of one write operation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if registerer != nil {
		registerer.MustRegister(c.searches, c.writes, c.eventsDropped, c.searchSeconds, c.writeSeconds)
	}
	return c
}

// ObserveSearch records one search request against one kind.
func (c *Collector) ObserveSearch(kind string, err error, seconds float64) {
	c.searches.WithLabelValues(kind, outcome(err)).Inc()
	c.searchSeconds.Observe(seconds)
}

// ObserveWrite records one write operation.
func (c *Collector) ObserveWrite(kind, action string, err error, seconds float64) {
	c.writes.WithLabelValues(kind, action, outcome(err)).Inc()
	c.writeSeconds.Observe(seconds)
}

// EventDropped counts one dropped live event.
func (c *Collector) EventDropped() {
	c.eventsDropped.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
