package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRegistry exposes the tunnel counters as Prometheus metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "noadproxy", Subsystem: "tunnels", Name: "active",
		Help: "Tunnels currently being serviced.",
	}, func() float64 { return float64(active.Load()) }))

	tunnelsTotal := func(mode string, v func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "noadproxy",
			Subsystem:   "tunnels",
			Name:        "total",
			Help:        "Tunnels opened, by mode.",
			ConstLabels: prometheus.Labels{"mode": mode},
		}, func() float64 { return float64(v()) })
	}
	reg.MustRegister(
		tunnelsTotal("direct", direct.Load),
		tunnelsTotal("chained", chained.Load),
	)

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "noadproxy", Subsystem: "requests", Name: "rejected_total",
		Help: "CONNECT requests refused because the domain is blocked.",
	}, func() float64 { return float64(rejected.Load()) }))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "noadproxy", Subsystem: "requests", Name: "failed_total",
		Help: "Connections dropped because of a read, parse, lookup or dial failure.",
	}, func() float64 { return float64(failed.Load()) }))

	bytesTotal := func(direction string, v func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "noadproxy",
			Subsystem:   "tunnels",
			Name:        "bytes_total",
			Help:        "Bytes spliced through tunnels.",
			ConstLabels: prometheus.Labels{"direction": direction},
		}, func() float64 { return float64(v()) })
	}
	reg.MustRegister(
		bytesTotal("up", upBytes.Load),
		bytesTotal("down", downBytes.Load),
	)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "noadproxy", Subsystem: "admission", Name: "permits_available",
		Help: "Free admission permits.",
	}, func() float64 {
		avail, _ := permitStats()
		return float64(avail)
	}))

	return reg
}
