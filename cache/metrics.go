package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

var EntriesAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fuse_preview",
	Subsystem: "cache",
	Name:      "entries_added",
}, []string{"kind"})

var LiveKeys = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "fuse_preview",
	Subsystem: "cache",
	Name:      "live_keys",
})

var Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "fuse_preview",
	Subsystem: "cache",
	Name:      "subscribers",
})

var TailLength = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "fuse_preview",
	Subsystem: "cache",
	Name:      "tail_length",
})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{EntriesAdded, LiveKeys, Subscribers, TailLength}
}
