// Package metrics holds RFT's Prometheus instrumentation (SPEC_FULL.md
// §4.8). It registers its own collectors into a private registry so
// importing it never has side effects on the default global one; the
// CLI wires promhttp.Handler for that registry only when asked to.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the private registry every collector below is registered
// into. Callers that want an HTTP exposition endpoint pass this to
// promhttp.HandlerFor.
var Registry = prometheus.NewRegistry()

var (
	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rft",
		Name:      "frames_sent_total",
		Help:      "Frames sent, by frame type.",
	}, []string{"type"})

	FramesAcked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rft",
		Name:      "frames_acked_total",
		Help:      "Tracked frames cumulatively acknowledged.",
	})

	FramesRetransmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rft",
		Name:      "frames_retransmitted_total",
		Help:      "Frame retransmissions, by cause.",
	}, []string{"cause"})

	ConnectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rft",
		Name:      "connections_open",
		Help:      "Connections that have reached Open and not yet shut down.",
	})

	CongestionWindow = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rft",
		Name:      "congestion_window_bytes",
		Help:      "Most recently observed congestion window, in bytes.",
	})

	FlowWindow = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rft",
		Name:      "flow_window_bytes",
		Help:      "Most recently observed peer-advertised flow window, in bytes.",
	})

	BytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rft",
		Name:      "bytes_transferred_total",
		Help:      "Data-frame payload bytes moved, by direction.",
	}, []string{"direction"})
)

func init() {
	Registry.MustRegister(
		FramesSent,
		FramesAcked,
		FramesRetransmitted,
		ConnectionsOpen,
		CongestionWindow,
		FlowWindow,
		BytesTransferred,
	)
}
