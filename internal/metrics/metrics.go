// Package metrics registers the prometheus collectors for the supervisor's
// command processing and the coordinator's reservation bookkeeping. Grounded on
// the teacher's internal/metrics/metrics_module.go (a *prometheus.Registry
// provided once via fx, individual collector structs registered against
// it) — narrowed to collectors only: this core never serves its own
// /metrics endpoint (HTTP is out of scope per spec.md §1), so the registry
// is exposed for an external collaborator to mount instead of being wired
// to a promhttp handler here.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the supervisor and coordinator report against.
type Metrics struct {
	CommandsProcessed       *prometheus.CounterVec
	QueueDepth              *prometheus.GaugeVec
	ReservationsOutstanding prometheus.Gauge
	ReplayDuration          prometheus.Histogram
}

// NewRegistry returns a fresh prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// New builds and registers the exchange core's collectors against registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CommandsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange_core",
			Name:      "commands_processed_total",
			Help:      "Commands the supervisor has applied to an engine, by asset and kind.",
		}, []string{"asset", "kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "exchange_core",
			Name:      "supervisor_queue_depth",
			Help:      "Number of commands currently buffered in the supervisor's inbound queue.",
		}, []string{"asset"}),
		ReservationsOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange_core",
			Name:      "ledger_reservations_outstanding",
			Help:      "Number of ledger reservations that have not yet been confirmed or reverted.",
		}),
		ReplayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange_core",
			Name:      "bootstrap_replay_duration_seconds",
			Help:      "Wall-clock time spent replaying the command log during bootstrap.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(m.CommandsProcessed, m.QueueDepth, m.ReservationsOutstanding, m.ReplayDuration)
	return m
}
