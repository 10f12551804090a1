package frameconn

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	FramesRead             prometheus.Counter
	FramesWritten          prometheus.Counter
	BytesRead              prometheus.Counter
	BytesWritten           prometheus.Counter
	ShutdownDrainBytesRead prometheus.Summary
	ShutdownSeconds        prometheus.Summary
	ShutdownDrainSeconds   prometheus.Summary
	ShutdownHardCloses     *prometheus.CounterVec
	ShutdownCloseErrors    *prometheus.CounterVec
}

func init() {
	prom.FramesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "frames_read",
		Help:      "Number of frames read from the wire",
	})
	prom.FramesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "frames_written",
		Help:      "Number of frames written to the wire",
	})
	prom.BytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "bytes_read",
		Help:      "Number of bytes read from the wire, including frame headers",
	})
	prom.BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "bytes_written",
		Help:      "Number of bytes written to the wire, including frame headers",
	})
	prom.ShutdownDrainBytesRead = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "shutdown_drain_bytes_read",
		Help:      "Number of bytes read during the drain phase of connection shutdown",
	})
	prom.ShutdownSeconds = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "shutdown_seconds",
		Help:      "Seconds it took for connection shutdown to complete",
	})
	prom.ShutdownDrainSeconds = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "shutdown_drain_seconds",
		Help:      "Seconds it took from read-side-drain until shutdown completion",
	})
	prom.ShutdownHardCloses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "shutdown_hard_closes",
		Help:      "Number of hard connection closes during shutdown (abortive close)",
	}, []string{"step"})
	prom.ShutdownCloseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwire",
		Subsystem: "frameconn",
		Name:      "shutdown_close_errors",
		Help:      "Number of errors closing the underlying network connection. Should alert on this",
	}, []string{"step"})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		prom.FramesRead, prom.FramesWritten,
		prom.BytesRead, prom.BytesWritten,
		prom.ShutdownDrainBytesRead, prom.ShutdownSeconds, prom.ShutdownDrainSeconds,
		prom.ShutdownHardCloses, prom.ShutdownCloseErrors,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
