package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "hubnet"

// Metrics holds the Prometheus collectors of a node. Each node has its own
// registry, so several nodes can run in one process.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec

	Relays  *prometheus.CounterVec
	Queries *prometheus.CounterVec

	Connections *prometheus.CounterVec

	Hubs   prometheus.Gauge
	Leaves prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Messages received by type",
		}, []string{"type"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Messages sent by the node by type",
		}, []string{"type"}),

		Relays: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relays_total",
			Help:      "Relayed messages originated by this node by outcome",
		}, []string{"outcome"}),
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "queries_total",
			Help:      "Queries originated by this node by outcome",
		}, []string{"outcome"}),

		Connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Connection events by pool",
		}, []string{"event", "pool"}),

		Hubs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "persistent_hubs",
			Help:      "Hubs this node is persistently connected to",
		}),
		Leaves: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "persistent_leaves",
			Help:      "Leaves persistently connected to this node",
		}),
	}
}

// Outcome labels.
const (
	outcomeStarted   = "started"
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
	outcomeAnswered  = "answered"
	outcomeTimedOut  = "timed_out"
)
