package network

import "github.com/prometheus/client_golang/prometheus"

var PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "fuse_preview",
	Subsystem: "network",
	Name:      "peers_connected",
})

var SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "fuse_preview",
	Subsystem: "network",
	Name:      "sessions_active",
})

var BytesRead = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "fuse_preview",
	Subsystem: "network",
	Name:      "read_bytes",
})

var BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "fuse_preview",
	Subsystem: "network",
	Name:      "written_bytes",
})

var WebsocketMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fuse_preview",
	Subsystem: "network",
	Name:      "websocket_messages",
}, []string{"direction"})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{PeersConnected, SessionsActive, BytesRead, BytesWritten, WebsocketMessages}
}
