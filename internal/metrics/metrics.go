package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level collectors for the MAVLink runtime. Registered on the
// default registry so promhttp.Handler() serves them directly.
var (
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundlink_frames_received_total",
		Help: "MAVLink frames received, by message type.",
	}, []string{"msg_type"})

	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundlink_frames_sent_total",
		Help: "MAVLink messages written to the wire, by message type.",
	}, []string{"msg_type"})

	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundlink_send_failures_total",
		Help: "MAVLink write failures, by message type.",
	}, []string{"msg_type"})

	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groundlink_parse_errors_total",
		Help: "Frames dropped due to parse or CRC errors.",
	})

	CommandsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundlink_commands_enqueued_total",
		Help: "Commands accepted into a link queue, by kind.",
	}, []string{"kind"})

	CommandsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groundlink_commands_dropped_total",
		Help: "Commands dropped because a link queue was full.",
	})

	MissionTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundlink_mission_transfers_total",
		Help: "Mission protocol operations, by operation and result.",
	}, []string{"op", "result"})

	BroadcastFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groundlink_broadcast_frames_total",
		Help: "Telemetry frames pushed to WebSocket subscribers.",
	})

	ConnectedVehicles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groundlink_connected_vehicles",
		Help: "Vehicles currently registered.",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groundlink_telemetry_subscribers",
		Help: "Connected WebSocket telemetry subscribers.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
