// Package metrics exposes Prometheus metrics for the event gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsDuplicate prometheus.Counter
	EventsMalformed prometheus.Counter
	EventsDropped   prometheus.Counter
	ProcessingTime  prometheus.Histogram
}

// New registers and returns gateway metrics collectors.
func New() *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_gateway_events_received_total",
			Help: "Inbound protocol events by kind, counted before dedup.",
		}, []string{"kind"}),
		EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_gateway_events_duplicate_total",
			Help: "Events suppressed because an identical delivery was already processed.",
		}),
		EventsMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_gateway_events_malformed_total",
			Help: "Deliveries dropped because the payload did not parse.",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_gateway_events_dropped_total",
			Help: "Parsed events acknowledged but not applied (unknown kind or unroutable).",
		}),
		ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_gateway_event_processing_seconds",
			Help:    "Wall time spent applying one protocol event.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
