package muxclient

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	QueueLength *prometheus.GaugeVec
	Replies     *prometheus.CounterVec
}

func init() {
	prom.QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gridwire",
		Subsystem: "mux",
		Name:      "send_queue_length",
		Help:      "messages waiting for the writer to drain them",
	}, []string{"peer"})
	prom.Replies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "mux",
		Name:      "replies_total",
		Help:      "received replies by outcome",
	}, []string{"peer", "outcome"})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		prom.QueueLength,
		prom.Replies,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
