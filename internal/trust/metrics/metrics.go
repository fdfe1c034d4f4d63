package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for trust registry operations.
type Metrics struct {
	SchemasRegistered    prometheus.Counter
	SchemasDeleted       prometheus.Counter
	SchemaDeleteBlocked  prometheus.Counter
	RestrictionsAdded    prometheus.Counter
	RestrictionsRemoved  prometheus.Counter
	TrustChecksTotal     *prometheus.CounterVec
	RestrictionsPerQuery prometheus.Histogram
}

// New registers and returns trust metrics collectors.
func New() *Metrics {
	return &Metrics{
		SchemasRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_trust_schemas_registered_total",
			Help: "Total number of credential schemas registered",
		}),
		SchemasDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_trust_schemas_deleted_total",
			Help: "Total number of credential schemas deleted",
		}),
		SchemaDeleteBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_trust_schema_delete_blocked_total",
			Help: "Schema deletions rejected because restrictions or credential definitions still reference the schema",
		}),
		RestrictionsAdded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_trust_restrictions_added_total",
			Help: "Total number of trusted issuer restrictions added",
		}),
		RestrictionsRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_trust_restrictions_removed_total",
			Help: "Total number of trusted issuer restrictions removed",
		}),
		TrustChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_trust_checks_total",
			Help: "Issuer trust checks, labeled by policy in effect and outcome",
		}, []string{"policy", "outcome"}),
		RestrictionsPerQuery: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_trust_restrictions_per_check",
			Help:    "Distribution of allow-list sizes observed during trust checks",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

func (m *Metrics) ObserveTrustCheck(policy string, allowed bool, listSize int) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.TrustChecksTotal.WithLabelValues(policy, outcome).Inc()
	m.RestrictionsPerQuery.Observe(float64(listSize))
}
