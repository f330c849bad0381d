package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	OperatorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "otcpull",
			Subsystem: "operator",
			Name:      "latency_seconds",
			Help:      "Latency of operator API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	OperatorActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "otcpull",
			Subsystem: "operator",
			Name:      "actions_total",
			Help:      "Operator actions by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
)

// Register adds the operator collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(OperatorLatency, OperatorActions)
	})
}
