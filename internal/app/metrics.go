package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service-level Prometheus collectors.
// Params: none.
// Returns: counters incremented by the evaluation and delivery paths.
type Metrics struct {
	Cycles            prometheus.Counter
	Fires             prometheus.Counter
	Clears            prometheus.Counter
	Suppressed        *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	SnapshotsIngested prometheus.Counter
}

// NewMetrics registers and returns the service collectors.
// Params: target registerer (the service passes the default one).
// Returns: registered metrics set.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "zonealert_evaluation_cycles_total",
			Help: "Completed rule evaluation cycles.",
		}),
		Fires: factory.NewCounter(prometheus.CounterOpts{
			Name: "zonealert_fires_total",
			Help: "Fire edges emitted by the debouncer, suppressed included.",
		}),
		Clears: factory.NewCounter(prometheus.CounterOpts{
			Name: "zonealert_clears_total",
			Help: "Clear edges emitted by the debouncer.",
		}),
		Suppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zonealert_suppressed_total",
			Help: "Fire edges suppressed before delivery.",
		}, []string{"reason"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zonealert_deliveries_total",
			Help: "Finished channel deliveries by outcome.",
		}, []string{"channel", "outcome"}),
		SnapshotsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "zonealert_snapshots_ingested_total",
			Help: "Metric snapshots accepted by ingest.",
		}),
	}
}

// DeliveryOutcome increments the delivery counter for one finished job.
// Params: channel kind and final success flag.
// Returns: none.
func (m *Metrics) DeliveryOutcome(channel string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.Deliveries.WithLabelValues(channel, outcome).Inc()
}
