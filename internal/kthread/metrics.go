package kthread

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the scheduler's exported gauges. Wiring prometheus into
// a teaching kernel's scheduler is grounded on Tingjia-0v0-SchedTest, a
// Go scheduler test bed in the reference pack that does exactly this.
type Metrics struct {
	ReadyCount  prometheus.Gauge
	LoadAvgX100 prometheus.Gauge
}

// NewMetrics builds scheduler gauges and registers them with reg if
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReadyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pintosgo",
			Subsystem: "sched",
			Name:      "ready_count",
			Help:      "Number of threads currently on the ready queue.",
		}),
		LoadAvgX100: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pintosgo",
			Subsystem: "sched",
			Name:      "load_avg_x100",
			Help:      "System load average, times 100.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ReadyCount, m.LoadAvgX100)
	}
	return m
}
