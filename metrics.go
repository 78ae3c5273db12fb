package pfwall

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. They are registered
// into the Registerer the caller passes to NewEngine; this package never
// registers into the global default. Two engines given the same Registerer
// collide: MustRegister panics for the second.
type Metrics struct {
	Verdicts     *prometheus.CounterVec
	TrackedFlows prometheus.Gauge
	SweepRemoved prometheus.Counter
	PurgedFlows  prometheus.Counter
	NATAllocated prometheus.Counter
	NATExhausted prometheus.Counter
}

// NewMetrics creates a fresh set of collectors and registers them into reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pfwall_verdicts_total",
			Help: "Total number of hook-stage verdicts, by hook and verdict.",
		}, []string{"hook", "verdict"}),
		TrackedFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pfwall_tracked_flows",
			Help: "Current number of live connection-tracker entries.",
		}),
		SweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pfwall_sweep_removed_total",
			Help: "Total number of flows removed by the background expiry sweep.",
		}),
		PurgedFlows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pfwall_purged_flows_total",
			Help: "Total number of flows removed by rule-change purges.",
		}),
		NATAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pfwall_nat_ports_allocated_total",
			Help: "Total number of SNAT port allocations.",
		}),
		NATExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pfwall_nat_port_pool_exhausted_total",
			Help: "Total number of SNAT attempts that found no free port.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Verdicts, m.TrackedFlows, m.SweepRemoved, m.PurgedFlows, m.NATAllocated, m.NATExhausted)
	}
	return m
}
