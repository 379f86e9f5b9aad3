package reifier

import (
	"github.com/prometheus/client_golang/prometheus"
)

var ReifyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "fuse_preview",
	Subsystem: "reifier",
	Name:      "reify_duration_seconds",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"outcome"})

var UpdateOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fuse_preview",
	Subsystem: "reifier",
	Name:      "attribute_updates",
}, []string{"outcome"})

var ParseCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "fuse_preview",
	Subsystem: "reifier",
	Name:      "parse_cache_hits",
})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{ReifyDuration, UpdateOutcomes, ParseCacheHits}
}
