package version

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	gridwireVersion string // set by build infrastructure
)

type GridwireVersionInformation struct {
	Version         string
	RuntimeGo       string
	RuntimeGOOS     string
	RuntimeGOARCH   string
	RUNTIMECompiler string
}

func NewGridwireVersionInformation() *GridwireVersionInformation {
	return &GridwireVersionInformation{
		Version:         gridwireVersion,
		RuntimeGo:       runtime.Version(),
		RuntimeGOOS:     runtime.GOOS,
		RuntimeGOARCH:   runtime.GOARCH,
		RUNTIMECompiler: runtime.Compiler,
	}
}

func (i *GridwireVersionInformation) String() string {
	return fmt.Sprintf("gridwire version=%s go=%s GOOS=%s GOARCH=%s Compiler=%s",
		i.Version, i.RuntimeGo, i.RuntimeGOOS, i.RuntimeGOARCH, i.RUNTIMECompiler)
}

var prometheusMetric = prometheus.NewUntypedFunc(
	prometheus.UntypedOpts{
		Namespace: "gridwire",
		Subsystem: "version",
		Name:      "daemon",
		Help:      "gridwire daemon version",
		ConstLabels: map[string]string{
			"raw":          gridwireVersion,
			"version_info": NewGridwireVersionInformation().String(),
		},
	},
	func() float64 { return 1 },
)

func PrometheusRegister(r prometheus.Registerer) {
	r.MustRegister(prometheusMetric)
}
