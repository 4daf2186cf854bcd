package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Channel connections
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracking_connections_active",
			Help: "Number of authenticated tracking channel connections",
		},
	)

	HandshakeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_handshake_rejections_total",
			Help: "Connection attempts refused before the channel was established",
		},
		[]string{"reason"}, // "auth", "upgrade"
	)

	GroupMembers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracking_group_members",
			Help: "Connections currently joined to a broadcast group",
		},
		[]string{"group"}, // "drivers", "monitors"
	)

	// Location ingestion
	LocationReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_location_reports_total",
			Help: "Location reports received, by outcome",
		},
		[]string{"source", "result"}, // source: "channel", "rest"; result: "accepted", "rejected"
	)

	// Fan-out
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_broadcast_deliveries_total",
			Help: "Outbound events queued to a connection",
		},
		[]string{"event"},
	)

	BroadcastDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_broadcast_drops_total",
			Help: "Outbound events dropped because the connection send buffer was full",
		},
		[]string{"event"},
	)

	// Downstream sinks
	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_sink_failures_total",
			Help: "Samples a downstream sink failed to handle or had to drop",
		},
		[]string{"sink", "reason"}, // reason: "error", "queue_full"
	)

	SinkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracking_sink_duration_seconds",
			Help:    "Time spent handing one sample to a downstream sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)
)

// ObserveSink records a sink call duration and its failure, if any.
func ObserveSink(sink string, start time.Time, err error) {
	SinkDuration.WithLabelValues(sink).Observe(time.Since(start).Seconds())
	if err != nil {
		SinkFailures.WithLabelValues(sink, "error").Inc()
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
