package metrics

import "github.com/prometheus/client_golang/prometheus"

// GatewayMetrics records push gateway activity.
type GatewayMetrics struct {
	connections   prometheus.Gauge
	subscriptions prometheus.Gauge
	deliveries    *prometheus.CounterVec
	malformed     prometheus.Counter
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Connected push clients.",
	})
	subscriptions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "subscription_keys",
		Help:      "Active subscription keys.",
	})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "deliveries_total",
		Help:      "Event pushes attempted, by result.",
	}, []string{"result"})
	malformed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "malformed_messages_total",
		Help:      "Bus messages skipped because they failed to parse.",
	})
	reg.MustRegister(connections, subscriptions, deliveries, malformed)
	return &GatewayMetrics{
		connections:   connections,
		subscriptions: subscriptions,
		deliveries:    deliveries,
		malformed:     malformed,
	}
}

func (m *GatewayMetrics) SetConnections(n int) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *GatewayMetrics) SetSubscriptions(n int) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// IncDelivery counts one push attempt; result is "ok" or "failed".
func (m *GatewayMetrics) IncDelivery(result string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *GatewayMetrics) IncMalformed() {
	if m == nil || m.malformed == nil {
		return
	}
	m.malformed.Inc()
}
