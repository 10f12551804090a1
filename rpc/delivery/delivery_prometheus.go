package delivery

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	OpenDeliveries    prometheus.Gauge
	CorrelationMisses prometheus.Counter
}

func init() {
	prom.OpenDeliveries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridwire",
		Subsystem: "delivery",
		Name:      "open_deliveries",
		Help:      "Number of registered request-ids whose reply has not arrived yet",
	})
	prom.CorrelationMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "delivery",
		Name:      "correlation_misses",
		Help:      "Number of replies dropped because no delivery was registered for their request-id",
	})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	if err := registry.Register(prom.OpenDeliveries); err != nil {
		return err
	}
	return registry.Register(prom.CorrelationMisses)
}
