package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for partner operations.
type Metrics struct {
	PartnersCreated           *prometheus.CounterVec
	PartnersRemoved           prometheus.Counter
	ConnectionTransitions     *prometheus.CounterVec
	IllegalTransitionsDropped prometheus.Counter
	ShadowPartnersCreated     prometheus.Counter
	ExchangesCancelledOnRemove prometheus.Counter
}

// New registers and returns partner metrics collectors.
func New() *Metrics {
	return &Metrics{
		PartnersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_partners_created_total",
			Help: "Partners created, labeled by origin (invitation, did, shadow)",
		}, []string{"origin"}),
		PartnersRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_partners_removed_total",
			Help: "Partners explicitly removed",
		}),
		ConnectionTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_connection_transitions_total",
			Help: "Connection state transitions applied, labeled by resulting state",
		}, []string{"to"}),
		IllegalTransitionsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_connection_illegal_transitions_dropped_total",
			Help: "Inbound connection events discarded because the transition was illegal",
		}),
		ShadowPartnersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_shadow_partners_created_total",
			Help: "Partner records auto-created from inbound connection requests",
		}),
		ExchangesCancelledOnRemove: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_exchanges_cancelled_on_partner_remove_total",
			Help: "Open exchanges cancelled as part of partner removal",
		}),
	}
}
