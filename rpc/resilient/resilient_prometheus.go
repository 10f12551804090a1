package resilient

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	StateTransitions *prometheus.CounterVec
	RequeuedMessages *prometheus.CounterVec
	QueueLength      *prometheus.GaugeVec
	AckLatency       *prometheus.SummaryVec
	KnownClients     *prometheus.GaugeVec
}

func init() {
	prom.StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "resilient",
		Name:      "state_transitions_total",
		Help:      "client status transitions, labelled by peer and edge",
	}, []string{"peer", "from", "to"})
	prom.RequeuedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "resilient",
		Name:      "requeued_messages_total",
		Help:      "messages requeued at the queue head after an ack timeout",
	}, []string{"peer"})
	prom.QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gridwire",
		Subsystem: "resilient",
		Name:      "send_queue_length",
		Help:      "messages waiting for the pending slot to become free",
	}, []string{"peer"})
	prom.AckLatency = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "gridwire",
		Subsystem: "resilient",
		Name:      "ack_latency_seconds",
		Help:      "time from transmit to matching ack",
	}, []string{"peer"})
	prom.KnownClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gridwire",
		Subsystem: "resilient",
		Name:      "server_known_clients",
		Help:      "distinct client tags registered via handshake",
	}, []string{"listener"})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		prom.StateTransitions,
		prom.RequeuedMessages,
		prom.QueueLength,
		prom.AckLatency,
		prom.KnownClients,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
