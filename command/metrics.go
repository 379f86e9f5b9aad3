package command

import "github.com/prometheus/client_golang/prometheus"

var callDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "fuse_preview",
	Subsystem: "command",
	Name:      "call_duration_seconds",
	Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
}, []string{"method"})

var clientCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fuse_preview",
	Subsystem: "command",
	Name:      "client_calls",
}, []string{"method", "outcome"})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{callDuration, clientCalls}
}
