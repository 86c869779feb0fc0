// Package metrics exposes prometheus collectors for routing, the connection
// gate and websocket sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatgate"

type Metrics struct {
	routed      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	connections prometheus.Gauge
	undelivered prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		routed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Messages persisted and fanned out, by destination kind.",
		}, []string{"kind"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped by the router, by reason.",
		}, []string{"reason"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Connection establishment frames rejected, by reason.",
		}, []string{"reason"}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
		undelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Frames a subscriber could not accept.",
		}),
	}
}

func (m *Metrics) MessageRouted(kind string)    { m.routed.WithLabelValues(kind).Inc() }
func (m *Metrics) MessageDropped(reason string) { m.dropped.WithLabelValues(reason).Inc() }
func (m *Metrics) GateRejected(reason string)   { m.rejected.WithLabelValues(reason).Inc() }
func (m *Metrics) ConnectionOpened()            { m.connections.Inc() }
func (m *Metrics) ConnectionClosed()            { m.connections.Dec() }
func (m *Metrics) DeliveryDropped()             { m.undelivered.Inc() }
