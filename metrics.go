package preview

import (
	"errors"

	"github.com/lorents/fuse-studio/cache"
	"github.com/lorents/fuse-studio/command"
	"github.com/lorents/fuse-studio/network"
	"github.com/lorents/fuse-studio/reifier"
	"github.com/prometheus/client_golang/prometheus"
)

var PipelineOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fuse_preview",
	Subsystem: "pipeline",
	Name:      "programs",
}, []string{"outcome"})

var ClientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "fuse_preview",
	Name:      "clients_connected",
})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{PipelineOutcomes, ClientsConnected}
}

// RegisterMetrics registers the series of every package. Registering
// twice with the same registerer is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	var all []prometheus.Collector
	all = append(all, Collectors()...)
	all = append(all, cache.Collectors()...)
	all = append(all, reifier.Collectors()...)
	all = append(all, command.Collectors()...)
	all = append(all, network.Collectors()...)
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
