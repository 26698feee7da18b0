package events

import "github.com/prometheus/client_golang/prometheus"

// RegisterMetrics exposes the bus counters on a prometheus registry, mirroring
// the Metrics() snapshot for scrape-based collection.
func RegisterMetrics(reg prometheus.Registerer, bus *Bus) {
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "order_events_received_total",
		Help: "Status events accepted by the bus.",
	}, func() float64 {
		return float64(bus.Metrics().Received)
	}))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "order_events_dedup_dropped_total",
		Help: "Status events dropped as repeats of the last seen version.",
	}, func() float64 {
		return float64(bus.Metrics().DedupDropped)
	}))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "order_events_emitted_total",
		Help: "Status events delivered to subscribers.",
	}, func() float64 {
		return float64(bus.Metrics().Emitted)
	}))
}
