package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for exchange operations.
type Metrics struct {
	ExchangesStarted          *prometheus.CounterVec
	ExchangeTransitions       *prometheus.CounterVec
	ExchangesDeclined         *prometheus.CounterVec
	UnknownCorrelationEvents  prometheus.Counter
	DuplicateEventDeliveries  prometheus.Counter
	IllegalTransitionsDropped prometheus.Counter
	MalformedEventsDropped    prometheus.Counter
	TrustCheckLatency         prometheus.Histogram
}

// New registers and returns exchange metrics collectors.
func New() *Metrics {
	return &Metrics{
		ExchangesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_exchanges_started_total",
			Help: "Exchanges initiated, labeled by kind",
		}, []string{"kind"}),
		ExchangeTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_exchange_transitions_total",
			Help: "Exchange state transitions applied, labeled by kind and resulting state",
		}, []string{"kind", "to"}),
		ExchangesDeclined: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_exchanges_declined_total",
			Help: "Exchanges terminated as declined, labeled by reason",
		}, []string{"reason"}),
		UnknownCorrelationEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_exchange_unknown_correlation_events_total",
			Help: "Inbound events whose correlation ID matched no exchange",
		}),
		DuplicateEventDeliveries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_exchange_duplicate_event_deliveries_total",
			Help: "Inbound events that re-delivered an already-applied transition",
		}),
		IllegalTransitionsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_exchange_illegal_transitions_dropped_total",
			Help: "Inbound exchange events discarded because the transition was illegal",
		}),
		MalformedEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_exchange_malformed_events_dropped_total",
			Help: "Inbound exchange events discarded for an unrecognized state or unparseable payload",
		}),
		TrustCheckLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_exchange_trust_check_latency_seconds",
			Help:    "Latency of issuer trust evaluation during event handling",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
